package goldzone

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRow_FlatJSON(t *testing.T) {
	row := MetadataRow{MetadataID: "m1", Attributes: map[string]string{"model": "gpt-4", "intent": "weather"}}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"metadata_id":"m1","model":"gpt-4","intent":"weather"}`, string(data))

	var back MetadataRow
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, row, back)
}
