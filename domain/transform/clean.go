package transform

import (
	"github.com/emergent-company/goldzone/domain/mapping"
)

// Application-type tags attached to each log category.
const (
	AppTypeConversation = "conversation"
	AppTypeLLM          = "llm"
)

// MissingValue fills cells that only exist because differently shaped
// categories were concatenated.
const MissingValue = "NA"

// DropIncomplete removes every row that has a null in any schema column.
// Rows with optional fields are discarded too.
func DropIncomplete(t Table) Table {
	kept := make([]Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		if isComplete(row, t.Columns) {
			kept = append(kept, row)
		}
	}
	t.Rows = kept
	return t
}

func isComplete(row Row, columns []string) bool {
	for _, c := range columns {
		if v, ok := row[c]; !ok || v == nil {
			return false
		}
	}
	return true
}

// AddConstantColumn sets column to value on every row, adding the column to
// the schema when needed.
func AddConstantColumn(t Table, column string, value any) Table {
	t.AddColumn(column)
	for _, row := range t.Rows {
		row[column] = value
	}
	return t
}

// ApplicationType returns the app_type tag for a log category, or "" when
// the category has none.
func ApplicationType(category string) string {
	switch category {
	case mapping.ConversationData:
		return AppTypeConversation
	case mapping.LLMData:
		return AppTypeLLM
	}
	return ""
}

// TagApplicationType adds the category's app_type tag unless the mapping
// already produced an app_type column.
func TagApplicationType(rec Record) Record {
	tag := ApplicationType(rec.Mapping.Name)
	if tag == "" || rec.Data.HasColumn(AppTypeColumn) {
		return rec
	}
	rec.Data = AddConstantColumn(rec.Data, AppTypeColumn, tag)
	return rec
}
