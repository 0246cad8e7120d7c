package mapping

import (
	"fmt"

	"github.com/emergent-company/goldzone/pkg/apperror"
)

// ToMap renders the column in its plain-map interchange form. An empty
// source or target name is rendered as nil.
func (c Column) ToMap() map[string]any {
	m := map[string]any{
		"source_name": nullable(c.SourceName),
		"target_name": nullable(c.TargetName),
		"data_type":   string(c.DataType),
	}
	if c.Nested != nil {
		subs := make([]any, 0, len(c.Nested.SubFields))
		for _, sub := range c.Nested.SubFields {
			subs = append(subs, sub.ToMap())
		}
		m["sort_by"] = nullable(c.Nested.SortBy)
		m["sub_fields"] = subs
	}
	return m
}

// ToMap renders the mapping in its plain-map interchange form.
func (m Mapping) ToMap() map[string]any {
	cols := make([]any, 0, len(m.Columns))
	for _, col := range m.Columns {
		cols = append(cols, col.ToMap())
	}
	return map[string]any{
		"name":    m.Name,
		"columns": cols,
	}
}

// ToMap renders the list in its plain-map interchange form.
func (l List) ToMap() map[string]any {
	mappings := make([]any, 0, len(l.Mappings))
	for _, m := range l.Mappings {
		mappings = append(mappings, m.ToMap())
	}
	return map[string]any{"mappings": mappings}
}

// ColumnFromMap parses and validates a column.
func ColumnFromMap(data map[string]any) (Column, error) {
	col, err := columnFromMap(data)
	if err != nil {
		return Column{}, err
	}
	return col, col.Validate()
}

func columnFromMap(data map[string]any) (Column, error) {
	source, err := optionalString(data, "source_name")
	if err != nil {
		return Column{}, err
	}
	target, err := optionalString(data, "target_name")
	if err != nil {
		return Column{}, err
	}
	dataType, err := optionalString(data, "data_type")
	if err != nil {
		return Column{}, err
	}
	col := Column{
		SourceName: source,
		TargetName: target,
		DataType:   DataType(dataType),
	}

	rawSubs, hasSubs := data["sub_fields"]
	if !hasSubs || rawSubs == nil {
		return col, nil
	}
	subs, ok := rawSubs.([]any)
	if !ok {
		return Column{}, apperror.NewConfiguration("column %q: sub_fields must be a list", col.name())
	}
	sortBy, err := optionalString(data, "sort_by")
	if err != nil {
		return Column{}, err
	}
	col.Nested = &Nested{SortBy: sortBy, SubFields: make([]Column, 0, len(subs))}
	for i, raw := range subs {
		subMap, ok := asMap(raw)
		if !ok {
			return Column{}, apperror.NewConfiguration("column %q: sub_fields[%d] must be a map", col.name(), i)
		}
		sub, err := columnFromMap(subMap)
		if err != nil {
			return Column{}, err
		}
		col.Nested.SubFields = append(col.Nested.SubFields, sub)
	}
	return col, nil
}

// FromMap parses and validates a mapping.
func FromMap(data map[string]any) (Mapping, error) {
	m, err := mappingFromMap(data)
	if err != nil {
		return Mapping{}, err
	}
	return m, m.Validate()
}

func mappingFromMap(data map[string]any) (Mapping, error) {
	name, err := optionalString(data, "name")
	if err != nil {
		return Mapping{}, err
	}
	rawCols, ok := data["columns"].([]any)
	if !ok {
		return Mapping{}, apperror.NewConfiguration("mapping %q: columns must be a list", name)
	}
	m := Mapping{Name: name, Columns: make([]Column, 0, len(rawCols))}
	for i, raw := range rawCols {
		colMap, ok := asMap(raw)
		if !ok {
			return Mapping{}, apperror.NewConfiguration("mapping %q: columns[%d] must be a map", name, i)
		}
		col, err := columnFromMap(colMap)
		if err != nil {
			return Mapping{}, fmt.Errorf("mapping %q: %w", name, err)
		}
		m.Columns = append(m.Columns, col)
	}
	return m, nil
}

// ListFromMap parses and validates a mapping list.
func ListFromMap(data map[string]any) (List, error) {
	rawMappings, ok := data["mappings"].([]any)
	if !ok {
		return List{}, apperror.NewConfiguration("mappings must be a list")
	}
	l := List{Mappings: make([]Mapping, 0, len(rawMappings))}
	for i, raw := range rawMappings {
		mMap, ok := asMap(raw)
		if !ok {
			return List{}, apperror.NewConfiguration("mappings[%d] must be a map", i)
		}
		m, err := mappingFromMap(mMap)
		if err != nil {
			return List{}, err
		}
		l.Mappings = append(l.Mappings, m)
	}
	return l, l.Validate()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalString(data map[string]any, key string) (string, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", apperror.NewConfiguration("%s must be a string, got %T", key, v)
	}
	return s, nil
}

// asMap accepts both decoded JSON maps and yaml.v3 maps.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}
