package mapping

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/goldzone/pkg/apperror"
)

func sampleList() List {
	return List{Mappings: []Mapping{
		{
			Name: ConversationData,
			Columns: []Column{
				{SourceName: "conversation_id", TargetName: "conversation_id", DataType: TypeString},
				{SourceName: "TimeGenerated", TargetName: "response_time", DataType: TypeDatetime},
				{SourceName: "turn", TargetName: "turn_id", DataType: TypeInt},
			},
		},
		{
			Name: LLMData,
			Columns: []Column{
				{SourceName: "conversation_id", TargetName: "conversation_id", DataType: TypeString},
				{SourceName: "latency", TargetName: "latency_ms", DataType: TypeFloat},
				{
					SourceName: "tool_calls",
					TargetName: "tools",
					DataType:   TypeNested,
					Nested: &Nested{
						SortBy: "position",
						SubFields: []Column{
							{SourceName: "name", TargetName: "tool", DataType: TypeString},
							{SourceName: "index", TargetName: "position", DataType: TypeInt},
						},
					},
				},
				{
					TargetName: "context",
					DataType:   TypeNested,
					Nested: &Nested{
						SubFields: []Column{
							{SourceName: "intent", TargetName: "intent", DataType: TypeString},
						},
					},
				},
			},
		},
	}}
}

func TestListRoundTrip(t *testing.T) {
	original := sampleList()
	require.NoError(t, original.Validate())

	parsed, err := ListFromMap(original.ToMap())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestColumnRoundTrip_NullNames(t *testing.T) {
	col := sampleList().Mappings[1].Columns[3]
	m := col.ToMap()
	assert.Nil(t, m["source_name"])
	assert.Nil(t, m["sort_by"])

	parsed, err := ColumnFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, col, parsed)
}

func TestYAMLRoundTrip(t *testing.T) {
	original := sampleList()
	data, err := Marshal(original)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestColumnValidate(t *testing.T) {
	tests := []struct {
		name    string
		col     Column
		wantErr bool
	}{
		{"valid leaf", Column{SourceName: "a", TargetName: "b", DataType: TypeString}, false},
		{"unknown type", Column{SourceName: "a", TargetName: "b", DataType: "bool"}, true},
		{"empty type", Column{SourceName: "a", TargetName: "b"}, true},
		{"leaf without source", Column{TargetName: "b", DataType: TypeInt}, true},
		{"leaf without target", Column{SourceName: "a", DataType: TypeInt}, true},
		{"nested type without sub_fields", Column{TargetName: "b", DataType: TypeNested}, true},
		{"sub_fields with leaf type", Column{
			TargetName: "b", DataType: TypeString,
			Nested: &Nested{SubFields: []Column{{SourceName: "x", TargetName: "y", DataType: TypeString}}},
		}, true},
		{"sort_by not a sub-field", Column{
			TargetName: "b", DataType: TypeNested,
			Nested: &Nested{SortBy: "z", SubFields: []Column{{SourceName: "x", TargetName: "y", DataType: TypeString}}},
		}, true},
		{"invalid sub-field type", Column{
			TargetName: "b", DataType: TypeNested,
			Nested: &Nested{SubFields: []Column{{SourceName: "x", TargetName: "y", DataType: "decimal"}}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.col.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrConfiguration))
		})
	}
}

func TestListValidate_Duplicates(t *testing.T) {
	l := sampleList()
	l.Mappings = append(l.Mappings, l.Mappings[0])
	assert.ErrorIs(t, l.Validate(), apperror.ErrConfiguration)

	m := l.Mappings[0]
	m.Columns = append(m.Columns, m.Columns[0])
	assert.ErrorIs(t, m.Validate(), apperror.ErrConfiguration)
}

func TestParse_BadDataType(t *testing.T) {
	doc := `
mappings:
  - name: conversation_data
    columns:
      - source_name: conversation_id
        target_name: conversation_id
        data_type: uuid
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrConfiguration)
	assert.Contains(t, err.Error(), "uuid")
}

func TestParse_NotYAML(t *testing.T) {
	_, err := Parse([]byte("mappings: [unterminated"))
	assert.ErrorIs(t, err, apperror.ErrConfiguration)

	_, err = Parse([]byte(""))
	assert.ErrorIs(t, err, apperror.ErrConfiguration)
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	doc := `{"mappings": [{"name": "llm_data", "columns": [
		{"source_name": "model", "target_name": "model", "data_type": "string"},
		{"source_name": "TimeGenerated", "target_name": "timestamp", "data_type": "datetime"}
	]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	l, err := Load(path)
	require.NoError(t, err)
	m, ok := l.Get(LLMData)
	require.True(t, ok)
	assert.Equal(t, []string{"model", "timestamp"}, m.TargetNames())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, apperror.ErrConfiguration)
}
