// Package tablestore reads and writes gold-zone tables as newline-delimited
// JSON on an object store. Fact tables are partitioned by calendar day as
// <root>/year=YYYY/month=M/day=D/<batch>.jsonl; dimension tables are single
// files.
package tablestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/internal/storage"
	"github.com/emergent-company/goldzone/pkg/logger"
)

var Module = fx.Module("tablestore",
	fx.Provide(New),
)

const fileExt = ".jsonl"

// Store is the partitioned table adapter.
type Store struct {
	objects storage.ObjectStore
	log     *slog.Logger
}

// New creates a table store over objects.
func New(objects storage.ObjectStore, log *slog.Logger) *Store {
	return &Store{objects: objects, log: log.With(logger.Scope("tablestore"))}
}

// Objects exposes the underlying object store.
func (s *Store) Objects() storage.ObjectStore {
	return s.objects
}

// PartitionPrefix returns the key prefix of the partition holding day t.
// Month and day are not zero padded.
func PartitionPrefix(root string, t time.Time) string {
	t = t.UTC()
	return path.Join(root,
		fmt.Sprintf("year=%d", t.Year()),
		fmt.Sprintf("month=%d", int(t.Month())),
		fmt.Sprintf("day=%d", t.Day()),
	) + "/"
}

// WritePartitioned splits the table by the calendar day of tsColumn and
// writes one <batch>.jsonl file per day. It returns the written keys.
func (s *Store) WritePartitioned(ctx context.Context, root string, t transform.Table, tsColumn, batch string) ([]string, error) {
	groups := make(map[string][]transform.Row)
	var order []string
	for i, row := range t.Rows {
		ts, err := rowTime(row[tsColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d %s: %w", i, tsColumn, err)
		}
		prefix := PartitionPrefix(root, ts)
		if _, ok := groups[prefix]; !ok {
			order = append(order, prefix)
		}
		groups[prefix] = append(groups[prefix], row)
	}

	keys := make([]string, 0, len(order))
	for _, prefix := range order {
		key := prefix + batch + fileExt
		if err := writeLines(ctx, s, key, groups[prefix]); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	s.log.Info("partitioned table written",
		slog.String("root", root),
		slog.Int("rows", len(t.Rows)),
		slog.Int("partitions", len(keys)),
	)
	return keys, nil
}

// ReadRange reads every partition from the day of start to the day of end,
// inclusive. Missing partitions are skipped.
func (s *Store) ReadRange(ctx context.Context, root string, start, end time.Time) (transform.Table, error) {
	var keys []string
	day := truncateDay(start)
	last := truncateDay(end)
	for !day.After(last) {
		found, err := s.objects.List(ctx, PartitionPrefix(root, day))
		if err != nil {
			return transform.Table{}, err
		}
		keys = append(keys, filterData(found)...)
		day = day.AddDate(0, 0, 1)
	}
	s.log.Debug("partitions listed", slog.String("root", root), slog.Int("files", len(keys)))
	return s.readKeys(ctx, keys)
}

// ReadAll reads every file below root.
func (s *Store) ReadAll(ctx context.Context, root string) (transform.Table, error) {
	keys, err := s.objects.List(ctx, strings.TrimSuffix(root, "/")+"/")
	if err != nil {
		return transform.Table{}, err
	}
	return s.readKeys(ctx, filterData(keys))
}

func (s *Store) readKeys(ctx context.Context, keys []string) (transform.Table, error) {
	var rows []transform.Row
	for _, key := range keys {
		err := s.readLines(ctx, key, func(line []byte) error {
			var row transform.Row
			if err := decode(line, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			return transform.Table{}, err
		}
	}
	return tableOf(rows), nil
}

// WriteTable replaces key with the rows of t.
func (s *Store) WriteTable(ctx context.Context, key string, t transform.Table) error {
	return writeLines(ctx, s, key, t.Rows)
}

// ReadRecords decodes every line of key into a T. A missing file yields no
// records.
func ReadRecords[T any](ctx context.Context, s *Store, key string) ([]T, error) {
	var out []T
	err := s.readLines(ctx, key, func(line []byte) error {
		var v T
		if err := decode(line, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return out, err
}

// WriteRecords replaces key with one JSON line per record.
func WriteRecords[T any](ctx context.Context, s *Store, key string, records []T) error {
	return writeLines(ctx, s, key, records)
}

func writeLines[T any](ctx context.Context, s *Store, key string, records []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode %s line %d: %w", key, i+1, err)
		}
	}
	if err := s.objects.Put(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) readLines(ctx context.Context, key string, fn func(line []byte) error) error {
	rc, err := s.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	return scan(rc, key, fn)
}

func scan(r io.Reader, key string, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s line %d: %w", key, n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

func decode(line []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	return dec.Decode(out)
}

// tableOf builds a table whose columns are the sorted union of row keys.
func tableOf(rows []transform.Row) transform.Table {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return transform.Table{Columns: cols, Rows: rows}
}

func filterData(keys []string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if strings.HasSuffix(k, fileExt) {
			out = append(out, k)
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rowTime reads a partitioning timestamp from a time value or an RFC 3339
// string.
func rowTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC(), nil
	case nil:
		return time.Time{}, errors.New("missing timestamp")
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}
