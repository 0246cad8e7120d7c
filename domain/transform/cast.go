package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emergent-company/goldzone/domain/mapping"
)

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// castValue converts a decoded JSON value to the column's data type.
// A JSON null stays nil.
func castValue(v any, dt mapping.DataType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch dt {
	case mapping.TypeString:
		return toString(v)
	case mapping.TypeInt:
		return toInt(v)
	case mapping.TypeFloat:
		return toFloat(v)
	case mapping.TypeDatetime:
		return toTime(v)
	}
	return nil, fmt.Errorf("cannot cast to %q", dt)
}

func toString(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func toInt(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return floatToInt(f)
	case string:
		return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("cannot cast %T to int", v)
}

func floatToInt(f float64) (any, error) {
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("value %v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	}
	return nil, fmt.Errorf("cannot cast %T to float", v)
}

// toTime accepts RFC 3339 style strings and epoch milliseconds.
func toTime(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		ms, err := val.Int64()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return nil, fmt.Errorf("unrecognised datetime %q", val)
	}
	return nil, fmt.Errorf("cannot cast %T to datetime", v)
}

// castNested builds the sub-records of a nested column. With a source name
// the payload value must be a list of objects (or a JSON string holding
// one); without, the sub-fields are read from the payload itself and yield
// a single sub-record.
func castNested(payload map[string]any, col mapping.Column) (any, string, error) {
	var items []any
	if col.SourceName == "" {
		items = []any{payload}
	} else {
		raw, ok := payload[col.SourceName]
		if !ok || raw == nil {
			return nil, "", nil
		}
		if s, isString := raw.(string); isString {
			if err := decodeJSON(s, &raw); err != nil {
				return nil, col.SourceName, err
			}
		}
		list, isList := raw.([]any)
		if !isList {
			return nil, col.SourceName, fmt.Errorf("expected a list, got %T", raw)
		}
		items = list
	}

	subRecords := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, col.SourceName, fmt.Errorf("item %d: expected an object, got %T", i, item)
		}
		sub := make(map[string]any, len(col.Nested.SubFields))
		for _, field := range col.Nested.SubFields {
			v, err := castValue(obj[field.SourceName], field.DataType)
			if err != nil {
				return nil, field.SourceName, fmt.Errorf("item %d: %w", i, err)
			}
			sub[field.TargetName] = v
		}
		subRecords = append(subRecords, sub)
	}

	if sortBy := col.Nested.SortBy; sortBy != "" {
		sort.SliceStable(subRecords, func(i, j int) bool {
			return lessValue(subRecords[i][sortBy], subRecords[j][sortBy])
		})
	}
	return subRecords, "", nil
}

// lessValue orders sub-record values; nulls sort last.
func lessValue(a, b any) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	switch av := a.(type) {
	case int64:
		if bv, ok := b.(int64); ok {
			return av < bv
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Before(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

// decodeJSON decodes exactly one JSON value; trailing content is an error.
func decodeJSON(s string, out any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected content after JSON value at offset %d", dec.InputOffset())
	}
	return nil
}
