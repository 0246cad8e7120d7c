// Package prepdata prepares evaluation input from gold-zone facts: it keeps
// one application's facts inside a window, attaches the metric names the
// evaluator must score and encodes the result as NDJSON.
package prepdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/emergent-company/goldzone/domain/evalmetrics"
	"github.com/emergent-company/goldzone/domain/goldzone"
	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/pkg/apperror"
)

// FilePrefix and FileExt frame the name of a prepared-data file.
const (
	FilePrefix = "evaluation_fact_"
	FileExt    = ".jsonl"
)

// FileName returns the prepared-data file name for a run started at t.
func FileName(t time.Time) string {
	return FilePrefix + t.UTC().Format("20060102150405") + FileExt
}

// Filter keeps the facts of appID whose tsColumn falls in [start, end].
// Rows without a usable timestamp are dropped.
func Filter(facts transform.Table, appID int64, tsColumn string, start, end time.Time) (transform.Table, error) {
	out := transform.Table{Columns: append([]string(nil), facts.Columns...)}
	for i, row := range facts.Rows {
		id, ok, err := int64Cell(row[goldzone.ColumnAppID])
		if err != nil {
			return transform.Table{}, fmt.Errorf("row %d %s: %w", i, goldzone.ColumnAppID, err)
		}
		if !ok || id != appID {
			continue
		}
		ts, ok, err := goldzone.CellTime(row[tsColumn])
		if err != nil {
			return transform.Table{}, fmt.Errorf("row %d %s: %w", i, tsColumn, err)
		}
		if !ok || ts.Before(start) || ts.After(end) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// AttachMetricNames adds the metric_names column, validating the value first
// so a bad configuration fails before any file is written.
func AttachMetricNames(t transform.Table, metricNames string) (transform.Table, error) {
	metrics, err := evalmetrics.ParseMetricNames(metricNames)
	if err != nil {
		return transform.Table{}, err
	}
	if len(metrics) == 0 {
		return transform.Table{}, apperror.NewConfiguration("no metric names configured")
	}
	return transform.AddConstantColumn(t, evalmetrics.FieldMetricNames, metricNames), nil
}

// Group arranges rows into evaluation units. Per-turn mode yields one
// single-row unit per fact. Session mode yields one unit per conversation, in
// first-seen order, with turns ordered by tsColumn.
func Group(t transform.Table, bySession bool, tsColumn string) ([][]transform.Row, error) {
	if !bySession {
		units := make([][]transform.Row, len(t.Rows))
		for i, row := range t.Rows {
			units[i] = []transform.Row{row}
		}
		return units, nil
	}

	index := make(map[string]int)
	var units [][]transform.Row
	for _, row := range t.Rows {
		id := row.String(goldzone.ColumnConversationID)
		i, ok := index[id]
		if !ok {
			i = len(units)
			index[id] = i
			units = append(units, nil)
		}
		units[i] = append(units[i], row)
	}

	for _, unit := range units {
		times := make([]time.Time, len(unit))
		for i, row := range unit {
			ts, _, err := goldzone.CellTime(row[tsColumn])
			if err != nil {
				return nil, fmt.Errorf("conversation %s: %w", row.String(goldzone.ColumnConversationID), err)
			}
			times[i] = ts
		}
		sort.Stable(byTime{rows: unit, times: times})
	}
	return units, nil
}

type byTime struct {
	rows  []transform.Row
	times []time.Time
}

func (b byTime) Len() int           { return len(b.rows) }
func (b byTime) Less(i, j int) bool { return b.times[i].Before(b.times[j]) }
func (b byTime) Swap(i, j int) {
	b.rows[i], b.rows[j] = b.rows[j], b.rows[i]
	b.times[i], b.times[j] = b.times[j], b.times[i]
}

// Encode writes one {"evaluation_dataset": [...]} line per unit.
func Encode(units [][]transform.Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, unit := range units {
		line := map[string][]transform.Row{evalmetrics.FieldEvaluationDataset: unit}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encode unit %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func int64Cell(v any) (int64, bool, error) {
	switch val := v.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return val, true, nil
	case int:
		return int64(val), true, nil
	case float64:
		return int64(val), true, nil
	case json.Number:
		n, err := val.Int64()
		return n, err == nil, err
	case string:
		if val == "" || val == transform.MissingValue {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(val, 10, 64)
		return n, err == nil, err
	}
	return 0, false, fmt.Errorf("unsupported id type %T", v)
}
