// Package evalmetrics turns evaluator output into metric facts: it resolves
// metric dimension rows, auto-provisioning unknown metrics, and upserts the
// facts into the relational store.
package evalmetrics

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emergent-company/goldzone/pkg/apperror"
)

// Keys of the evaluator contract.
const (
	FieldMetricNames       = "metric_names"
	FieldEvaluationDataset = "evaluation_dataset"
	FieldEvaluationResults = "evaluation_results"
)

// MetricDescriptor is one entry of the JSON-encoded metric_names list
// attached to every prepared row.
type MetricDescriptor struct {
	MetricName          string      `json:"metric_name"`
	MetricVersion       json.Number `json:"metric_version"`
	MetricAllowedValues []any       `json:"metric_allowed_values"`
}

// ParseMetricNames decodes a metric_names value.
func ParseMetricNames(s string) ([]MetricDescriptor, error) {
	var out []MetricDescriptor
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, apperror.NewConfiguration("invalid metric names %q: %v", s, err)
	}
	return out, nil
}

var firstDigit = regexp.MustCompile(`\d`)

// ParseScore reads a score from free-form evaluator text: the first digit
// found, or the whole text when it has none.
func ParseScore(raw string) (float64, error) {
	score := raw
	if m := firstDigit.FindString(raw); m != "" {
		score = m
	}
	return strconv.ParseFloat(score, 64)
}

// BuildEvaluationOutput flattens one prepared row and the evaluator's raw
// score into the evaluator output shape. An unparseable score becomes 0 and
// the parse error is returned alongside the output for logging.
func BuildEvaluationOutput(dataset map[string]any, raw string) ([]map[string]any, error) {
	out := make(map[string]any, len(dataset)+4)
	for k, v := range dataset {
		out[k] = v
	}

	names, _ := out[FieldMetricNames].(string)
	metrics, err := ParseMetricNames(names)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, apperror.NewConfiguration("row carries no metric names")
	}
	delete(out, FieldMetricNames)

	score, parseErr := ParseScore(raw)
	if parseErr != nil {
		score = 0
		parseErr = fmt.Errorf("parse score %q: %w", raw, parseErr)
	}

	out["metric_name"] = metrics[0].MetricName
	out["metric_version"] = metrics[0].MetricVersion
	out["metric_value"] = score
	out["metric_raw_value"] = raw
	out["metric_type"] = MetricTypeNumerical
	return []map[string]any{out}, parseErr
}

// ResultRow is one flattened evaluator output row.
type ResultRow struct {
	EvaluationDatasetID string
	ConversationID      string
	SessionID           string
	MetadataID          string
	AppID               *int64
	MetricName          string
	MetricVersion       string
	MetricType          string
	MetricValue         any
	MetricRawValue      string
	Timestamp           time.Time
}

// ReadResults reads evaluator output lines shaped
// {"evaluation_results": [...]}. It returns the flattened rows and the number
// of non-empty lines, which is the number of successfully evaluated inputs.
func ReadResults(r io.Reader) ([]ResultRow, int, error) {
	var rows []ResultRow
	lines := 0
	err := scanLines(r, func(n int, line []byte) error {
		var rec struct {
			Results []map[string]any `json:"evaluation_results"`
		}
		dec := json.NewDecoder(strings.NewReader(string(line)))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		lines++
		for _, m := range rec.Results {
			rows = append(rows, resultRowFromMap(m))
		}
		return nil
	})
	return rows, lines, err
}

// CountRecords counts the non-empty lines of a prepared-data file.
func CountRecords(r io.Reader) (int, error) {
	n := 0
	err := scanLines(r, func(int, []byte) error {
		n++
		return nil
	})
	return n, err
}

func scanLines(r io.Reader, fn func(n int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// resultRowFromMap reads evaluator fields; missing values read as zero.
func resultRowFromMap(m map[string]any) ResultRow {
	row := ResultRow{
		EvaluationDatasetID: stringField(m, "evaluation_dataset_id"),
		ConversationID:      stringField(m, "conversation_id"),
		SessionID:           stringField(m, "session_id"),
		MetadataID:          stringField(m, "metadata_id"),
		MetricName:          stringField(m, "metric_name"),
		MetricVersion:       stringField(m, "metric_version"),
		MetricType:          stringField(m, "metric_type"),
		MetricValue:         m["metric_value"],
		MetricRawValue:      stringField(m, "metric_raw_value"),
	}
	if row.MetricValue == nil {
		row.MetricValue = json.Number("0")
	}
	if n, ok := m["app_id"].(json.Number); ok {
		if id, err := n.Int64(); err == nil {
			row.AppID = &id
		}
	}
	for _, key := range []string{"timestamp", "response_time"} {
		if ts, ok := timeField(m[key]); ok {
			row.Timestamp = ts
			break
		}
	}
	return row
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// timeField reads epoch milliseconds or an RFC 3339 string.
func timeField(v any) (time.Time, bool) {
	switch val := v.(type) {
	case json.Number:
		ms, err := val.Int64()
		if err != nil {
			f, ferr := val.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			ms = int64(f)
		}
		return time.UnixMilli(ms).UTC(), true
	case string:
		ts, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	}
	return time.Time{}, false
}

// numericValue converts an evaluator metric value to a float.
func numericValue(v any) (float64, error) {
	switch val := v.(type) {
	case json.Number:
		return val.Float64()
	case float64:
		return val, nil
	case int64:
		return float64(val), nil
	case int:
		return float64(val), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	case nil:
		return 0, errors.New("missing metric value")
	}
	return 0, fmt.Errorf("unsupported metric value %T", v)
}
