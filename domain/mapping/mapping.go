// Package mapping describes how raw log payload fields map to typed target
// columns. Mappings are validated when they are built or loaded, so an
// invalid configuration fails before any I/O happens.
package mapping

import (
	"fmt"

	"github.com/emergent-company/goldzone/pkg/apperror"
)

// DataType is the declared type of a target column.
type DataType string

const (
	TypeString   DataType = "string"
	TypeInt      DataType = "int"
	TypeFloat    DataType = "float"
	TypeDatetime DataType = "datetime"
	TypeNested   DataType = "nested"
)

// Valid reports whether t is one of the supported data types.
func (t DataType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeDatetime, TypeNested:
		return true
	}
	return false
}

// Well-known mapping names. Each names a log category in the raw store.
const (
	ConversationData = "conversation_data"
	LLMData          = "llm_data"
)

// Column is a single rename-and-cast rule.
//
// A leaf column has Nested == nil and a non-empty SourceName. A nested column
// has DataType == TypeNested and a non-nil Nested; its SourceName is empty
// when it only groups sub-fields of the parent record.
type Column struct {
	SourceName string
	TargetName string
	DataType   DataType
	Nested     *Nested
}

// Nested holds the sub-record layout of a nested column.
type Nested struct {
	// SortBy names the sub-field target used to order sub-records; empty keeps source order.
	SortBy    string
	SubFields []Column
}

// IsNested reports whether the column materializes a sequence of sub-records.
func (c Column) IsNested() bool {
	return c.Nested != nil
}

// Validate checks the column's structural rules.
func (c Column) Validate() error {
	if !c.DataType.Valid() {
		return apperror.NewConfiguration("column %q: unsupported data_type %q", c.name(), c.DataType)
	}
	if c.Nested != nil {
		if c.DataType != TypeNested {
			return apperror.NewConfiguration("column %q: sub_fields require data_type %q, got %q", c.name(), TypeNested, c.DataType)
		}
		if len(c.Nested.SubFields) == 0 {
			return apperror.NewConfiguration("column %q: nested column has no sub_fields", c.name())
		}
		for _, sub := range c.Nested.SubFields {
			if sub.IsNested() {
				return apperror.NewConfiguration("column %q: sub-field %q cannot itself be nested", c.name(), sub.name())
			}
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		if c.Nested.SortBy != "" && !c.Nested.hasTarget(c.Nested.SortBy) {
			return apperror.NewConfiguration("column %q: sort_by %q is not a sub-field target", c.name(), c.Nested.SortBy)
		}
		return nil
	}
	if c.DataType == TypeNested {
		return apperror.NewConfiguration("column %q: data_type %q requires sub_fields", c.name(), TypeNested)
	}
	if c.SourceName == "" {
		return apperror.NewConfiguration("column %q: source_name is required", c.name())
	}
	if c.TargetName == "" {
		return apperror.NewConfiguration("column %q: target_name is required", c.SourceName)
	}
	return nil
}

func (c Column) name() string {
	if c.TargetName != "" {
		return c.TargetName
	}
	return c.SourceName
}

func (n *Nested) hasTarget(target string) bool {
	for _, sub := range n.SubFields {
		if sub.TargetName == target {
			return true
		}
	}
	return false
}

// Mapping binds a log category to the columns extracted from it.
type Mapping struct {
	Name    string
	Columns []Column
}

// Validate checks the mapping and all of its columns.
func (m Mapping) Validate() error {
	if m.Name == "" {
		return apperror.NewConfiguration("mapping name is required")
	}
	if len(m.Columns) == 0 {
		return apperror.NewConfiguration("mapping %q has no columns", m.Name)
	}
	seen := make(map[string]struct{}, len(m.Columns))
	for _, col := range m.Columns {
		if err := col.Validate(); err != nil {
			return fmt.Errorf("mapping %q: %w", m.Name, err)
		}
		if _, dup := seen[col.TargetName]; dup && col.TargetName != "" {
			return apperror.NewConfiguration("mapping %q: duplicate target_name %q", m.Name, col.TargetName)
		}
		seen[col.TargetName] = struct{}{}
	}
	return nil
}

// TargetNames returns the target column names in declaration order.
func (m Mapping) TargetNames() []string {
	names := make([]string, 0, len(m.Columns))
	for _, col := range m.Columns {
		names = append(names, col.TargetName)
	}
	return names
}

// List is the complete mapping configuration of one transformer. Order sets
// processing order only.
type List struct {
	Mappings []Mapping
}

// Validate checks every mapping in the list.
func (l List) Validate() error {
	seen := make(map[string]struct{}, len(l.Mappings))
	for _, m := range l.Mappings {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, dup := seen[m.Name]; dup {
			return apperror.NewConfiguration("duplicate mapping %q", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Get returns the mapping with the given name.
func (l List) Get(name string) (Mapping, bool) {
	for _, m := range l.Mappings {
		if m.Name == name {
			return m, true
		}
	}
	return Mapping{}, false
}
