package transform

import (
	"fmt"
	"math"
)

// DefaultSampleFraction is the share of conversations kept by Sample.
const DefaultSampleFraction = 0.8

// Sample keeps the first floor(fraction * n) distinct conversations, in the
// order they first appear, and every row belonging to them. No conversation
// is ever split. The result is deterministic for a given input order.
func Sample(t Table, fraction float64) (Table, error) {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return t, fmt.Errorf("sample fraction %v outside [0, 1]", fraction)
	}

	var order []string
	seen := make(map[string]struct{})
	for _, row := range t.Rows {
		id := row.String(ConversationIDColumn)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}

	keep := int(math.Floor(fraction * float64(len(order))))
	kept := make(map[string]struct{}, keep)
	for _, id := range order[:keep] {
		kept[id] = struct{}{}
	}

	out := Table{Columns: t.Columns, Rows: make([]Row, 0, len(t.Rows))}
	for _, row := range t.Rows {
		if _, ok := kept[row.String(ConversationIDColumn)]; ok {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}
