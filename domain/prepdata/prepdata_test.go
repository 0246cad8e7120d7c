package prepdata

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/pkg/apperror"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fact(conv string, appID any, at string) transform.Row {
	return transform.Row{
		"conversation_id": conv,
		"app_id":          appID,
		"response_time":   at,
	}
}

func facts(rows ...transform.Row) transform.Table {
	return transform.Table{Columns: []string{"app_id", "conversation_id", "response_time"}, Rows: rows}
}

func TestFileName(t *testing.T) {
	got := FileName(time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC))
	assert.Equal(t, "evaluation_fact_20240301140509.jsonl", got)
}

func TestFilter(t *testing.T) {
	in := facts(
		fact("c1", json.Number("7"), "2024-03-01T10:00:00Z"),
		fact("c2", json.Number("8"), "2024-03-01T10:00:00Z"),
		fact("c3", json.Number("7"), "2024-03-03T10:00:00Z"),
		fact("c4", int64(7), "2024-03-01T23:59:59Z"),
		fact("c5", json.Number("7"), "NA"),
	)

	out, err := Filter(in, 7, "response_time", day, day.Add(24*time.Hour-time.Second))
	require.NoError(t, err)

	var got []string
	for _, row := range out.Rows {
		got = append(got, row.String("conversation_id"))
	}
	assert.Equal(t, []string{"c1", "c4"}, got)
}

func TestFilter_BadTimestamp(t *testing.T) {
	_, err := Filter(facts(fact("c1", json.Number("7"), "yesterday")), 7, "response_time", day, day)
	require.Error(t, err)
}

func TestAttachMetricNames(t *testing.T) {
	names := `[{"metric_name":"relevance","metric_version":1}]`
	out, err := AttachMetricNames(facts(fact("c1", int64(1), "2024-03-01T10:00:00Z")), names)
	require.NoError(t, err)
	assert.True(t, out.HasColumn("metric_names"))
	assert.Equal(t, names, out.Rows[0]["metric_names"])
}

func TestAttachMetricNames_Invalid(t *testing.T) {
	for _, names := range []string{"not json", "[]"} {
		_, err := AttachMetricNames(facts(), names)
		require.Error(t, err, names)
		assert.True(t, errors.Is(err, apperror.ErrConfiguration), names)
	}
}

func TestGroup_PerTurn(t *testing.T) {
	units, err := Group(facts(
		fact("c1", int64(1), "2024-03-01T10:00:00Z"),
		fact("c1", int64(1), "2024-03-01T09:00:00Z"),
	), false, "response_time")
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Len(t, units[0], 1)
	assert.Len(t, units[1], 1)
}

func TestGroup_BySessionOrdersTurns(t *testing.T) {
	units, err := Group(facts(
		fact("c2", int64(1), "2024-03-01T11:00:00Z"),
		fact("c1", int64(1), "2024-03-01T10:30:00Z"),
		fact("c2", int64(1), "2024-03-01T09:00:00Z"),
		fact("c1", int64(1), "2024-03-01T10:00:00Z"),
	), true, "response_time")
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "c2", units[0][0].String("conversation_id"))
	assert.Equal(t, "2024-03-01T09:00:00Z", units[0][0]["response_time"])
	assert.Equal(t, "2024-03-01T11:00:00Z", units[0][1]["response_time"])
	assert.Equal(t, "2024-03-01T10:00:00Z", units[1][0]["response_time"])
}

func TestEncode(t *testing.T) {
	units, err := Group(facts(
		fact("c1", int64(1), "2024-03-01T10:00:00Z"),
		fact("c2", int64(1), "2024-03-01T10:00:00Z"),
	), false, "response_time")
	require.NoError(t, err)

	data, err := Encode(units)
	require.NoError(t, err)

	sc := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for sc.Scan() {
		var line struct {
			Dataset []map[string]any `json:"evaluation_dataset"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		assert.Len(t, line.Dataset, 1)
		lines++
	}
	assert.Equal(t, 2, lines)
}
