package tablestore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/internal/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	objects, err := storage.NewLocal(t.TempDir(), log)
	require.NoError(t, err)
	return New(objects, log)
}

func TestPartitionPrefix_NoPadding(t *testing.T) {
	ts := time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "facts/year=2024/month=3/day=5/", PartitionPrefix("facts", ts))
}

func TestWritePartitionedAndReadRange(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day5 := day1.AddDate(0, 0, 4)

	table := transform.Table{
		Columns: []string{"id", "response_time"},
		Rows: []transform.Row{
			{"id": "a", "response_time": day1},
			{"id": "b", "response_time": day2},
			{"id": "c", "response_time": day1.Add(time.Hour)},
			{"id": "d", "response_time": day5.Format(time.RFC3339Nano)},
		},
	}

	keys, err := s.WritePartitioned(ctx, "facts", table, "response_time", "batch1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"facts/year=2024/month=3/day=1/batch1.jsonl",
		"facts/year=2024/month=3/day=2/batch1.jsonl",
		"facts/year=2024/month=3/day=5/batch1.jsonl",
	}, keys)

	got, err := s.ReadRange(ctx, "facts", day1, day2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "response_time"}, got.Columns)

	var ids []string
	for _, row := range got.Rows {
		ids = append(ids, row.String("id"))
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)

	all, err := s.ReadAll(ctx, "facts")
	require.NoError(t, err)
	assert.Len(t, all.Rows, 4)
}

func TestReadRange_EmptyIsNotAnError(t *testing.T) {
	s := newStore(t)
	now := time.Now()

	got, err := s.ReadRange(context.Background(), "facts", now.Add(-48*time.Hour), now)
	require.NoError(t, err)
	assert.Zero(t, got.Len())
}

func TestWritePartitioned_MissingTimestamp(t *testing.T) {
	s := newStore(t)
	table := transform.Table{Columns: []string{"id"}, Rows: []transform.Row{{"id": "a"}}}

	_, err := s.WritePartitioned(context.Background(), "facts", table, "response_time", "b")
	assert.Error(t, err)
}

type dimRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestRecordsRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	missing, err := ReadRecords[dimRow](ctx, s, "dims/none.jsonl")
	require.NoError(t, err)
	assert.Empty(t, missing)

	rows := []dimRow{{ID: "1", Name: "faq"}, {ID: "2", Name: "NA"}}
	require.NoError(t, WriteRecords(ctx, s, "dims/router.jsonl", rows))

	got, err := ReadRecords[dimRow](ctx, s, "dims/router.jsonl")
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestReadAll_NumbersKeepPrecision(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	table := transform.Table{
		Columns: []string{"app_id", "response_time"},
		Rows:    []transform.Row{{"app_id": int64(9007199254740993), "response_time": time.Now()}},
	}
	_, err := s.WritePartitioned(ctx, "facts", table, "response_time", "b")
	require.NoError(t, err)

	got, err := s.ReadAll(ctx, "facts")
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, json.Number("9007199254740993"), got.Rows[0]["app_id"])
}
