package transform

import (
	"fmt"
	"time"
)

// Row is one record of a table. A missing key and a nil value both mean null.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value of col formatted as a string, or "" for null.
func (r Row) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

// Table is an ordered set of columns and the rows holding them.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) Table {
	return Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether the column is part of the schema.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends a column to the schema if it is not already present.
func (t *Table) AddColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// DropColumns removes columns from the schema and from every row.
func (t *Table) DropColumns(names ...string) {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := t.Columns[:0:0]
	for _, c := range t.Columns {
		if _, ok := drop[c]; !ok {
			kept = append(kept, c)
		}
	}
	t.Columns = kept
	for _, row := range t.Rows {
		for n := range drop {
			delete(row, n)
		}
	}
}

// Concat stacks tables vertically. The result schema is the union of the
// inputs' columns in first-seen order; cells a table did not have are null.
func Concat(tables ...Table) Table {
	var out Table
	for _, t := range tables {
		for _, c := range t.Columns {
			out.AddColumn(c)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

// FillMissing replaces null cells of every schema column with value.
func FillMissing(t Table, value any) Table {
	for _, row := range t.Rows {
		for _, c := range t.Columns {
			if v, ok := row[c]; !ok || v == nil {
				row[c] = value
			}
		}
	}
	return t
}
