// Package goldzone reconciles sampled chatbot turns with the gold-zone
// dimension tables and produces the new evaluation-dataset facts.
//
// The Reconciler is a pure function of the batch and the existing state: it
// performs no I/O and keeps nothing between invocations. Callers must not run
// two reconciliations against the same dimension set at once.
package goldzone

// Column names shared by the batch, the dimensions and the facts.
const (
	ColumnMetadataID          = "metadata_id"
	ColumnRouterFunctionID    = "router_function_id"
	ColumnAppID               = "app_id"
	ColumnAppName             = "app_name"
	ColumnAppType             = "app_type"
	ColumnEvaluationDatasetID = "evaluation_dataset_id"
	ColumnQueryTime           = "query_time"
	ColumnResponseTime        = "response_time"
	ColumnConversationID      = "conversation_id"
	ColumnSessionID           = "session_id"
	ColumnTranscriptID        = "transcript_id"
	ColumnRouterFunction      = "router_function"
)

// RouterFunctionDefault is used when the batch has no router_function column.
const RouterFunctionDefault = "NA"

// Schema declares which batch columns drive each resolution step.
type Schema struct {
	// MetadataAttributes is the group-by tuple of the metadata dimension.
	MetadataAttributes []string
	// SessionColumn optionally adds a session key in front of
	// conversation_id. Empty keys sessions by conversation alone.
	SessionColumn string
	// RouterColumn enables router-function resolution. Empty disables it.
	RouterColumn string
	// FactKey is the composite natural key used to drop duplicate facts.
	FactKey []string
	// DropColumns are removed from the facts once their surrogate keys are attached.
	DropColumns []string
}

// DefaultSchema is the business-unit keyed layout with session and router
// dimensions.
func DefaultSchema() Schema {
	attrs := []string{"business_unit", "super_category", "vertical", "pid"}
	drop := append(append([]string(nil), attrs...), ColumnAppName, ColumnAppType, ColumnRouterFunction)
	return Schema{
		MetadataAttributes: attrs,
		SessionColumn:      ColumnSessionID,
		RouterColumn:       ColumnRouterFunction,
		FactKey:            []string{ColumnAppID, ColumnSessionID, ColumnMetadataID, ColumnTranscriptID},
		DropColumns:        drop,
	}
}

// ConversationSchema is the simpler model/intent layout keyed by conversation
// only, without a router dimension.
func ConversationSchema() Schema {
	attrs := []string{"model", "intent"}
	drop := append(append([]string(nil), attrs...), ColumnAppType)
	return Schema{
		MetadataAttributes: attrs,
		FactKey:            []string{ColumnAppName, ColumnConversationID, ColumnMetadataID, "turn_id"},
		DropColumns:        drop,
	}
}
