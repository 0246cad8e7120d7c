package goldzone

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Dimension file names inside the dimension root.
const (
	DimMetadata       = "dim_metadata"
	DimSession        = "dim_session"
	DimRouterFunction = "dim_router_function"
)

// MetadataRow is one distinct metadata attribute tuple and its surrogate id.
// It serializes as a flat object: metadata_id plus one key per attribute.
type MetadataRow struct {
	MetadataID string
	Attributes map[string]string
}

func (m MetadataRow) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m.Attributes)+1)
	for k, v := range m.Attributes {
		out[k] = v
	}
	out[ColumnMetadataID] = m.MetadataID
	return json.Marshal(out)
}

func (m *MetadataRow) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Attributes = make(map[string]string, len(raw))
	for k, v := range raw {
		s := ""
		if v != nil {
			s = fmt.Sprint(v)
		}
		if k == ColumnMetadataID {
			m.MetadataID = s
			continue
		}
		m.Attributes[k] = s
	}
	return nil
}

// key returns the attribute tuple in schema order.
func (m MetadataRow) key(attrs []string) string {
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = m.Attributes[a]
	}
	return tupleKey(parts...)
}

// SessionRow spans the first query and the last response of a session.
type SessionRow struct {
	SessionID      string    `json:"session_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	StartTime      time.Time `json:"conv_start_time"`
	EndTime        time.Time `json:"conv_end_time"`
}

func (s SessionRow) key() string {
	return tupleKey(s.SessionID, s.ConversationID)
}

// RouterFunctionRow maps a router function name to its surrogate id.
type RouterFunctionRow struct {
	RouterFunctionID string `json:"router_function_id"`
	RouterFunction   string `json:"router_function"`
}

// AppRow is a registered application. Applications are provisioned outside
// the pipeline; reconciliation only reads them.
type AppRow struct {
	bun.BaseModel `bun:"table:dim_app,alias:a"`

	AppID       int64     `bun:"app_id,pk,autoincrement" json:"app_id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Type        string    `bun:"type,notnull" json:"type"`
	Description *string   `bun:"description" json:"description,omitempty"`
	CreatedDate time.Time `bun:"created_date,notnull,default:current_timestamp" json:"created_date"`
}

// State is the dimensional state a batch is reconciled against.
type State struct {
	Metadata []MetadataRow
	Sessions []SessionRow
	Routers  []RouterFunctionRow
	Apps     []AppRow
	// FactKeys holds the composite keys of every stored fact.
	FactKeys map[string]struct{}
}

// tupleKey joins natural key parts with a separator that cannot appear in
// ordinary text.
func tupleKey(parts ...string) string {
	return strings.Join(parts, "\x1f")
}
