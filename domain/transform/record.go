// Package transform reshapes raw chatbot log records into typed tables and
// prepares them for reconciliation: cleaning, enrichment and sampling.
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/emergent-company/goldzone/domain/mapping"
	"github.com/emergent-company/goldzone/pkg/apperror"
)

const (
	// TimestampSource is the source name that reads the record's generation
	// time instead of a payload field.
	TimestampSource = "TimeGenerated"
	// PayloadField names the raw JSON properties blob in decode errors.
	PayloadField = "Properties"
	// LLMResponseField holds a JSON-encoded chat completion in llm_data payloads.
	LLMResponseField = "llm_response"
	// ResponseColumn receives the first completion's message content.
	ResponseColumn = "response"
	// ConversationIDColumn is the conversation key used by sampling.
	ConversationIDColumn = "conversation_id"
	// AppTypeColumn carries the application-type tag.
	AppTypeColumn = "app_type"
)

// RawRecord is one log line as returned by the log store.
type RawRecord struct {
	// Payload is the JSON-encoded properties blob.
	Payload string
	// GeneratedAtMillis is the generation time in epoch milliseconds.
	GeneratedAtMillis int64
}

// GeneratedAt returns the generation time as a UTC timestamp.
func (r RawRecord) GeneratedAt() time.Time {
	return time.UnixMilli(r.GeneratedAtMillis).UTC()
}

// LogFetcher retrieves the raw records of one log category for a time range.
// An empty result is valid and is not an error.
type LogFetcher interface {
	Fetch(ctx context.Context, category string, start, end time.Time) ([]RawRecord, error)
}

// Record bundles the raw records of one category with the mapping that
// applies to them, and carries the reshaped table between stages.
type Record struct {
	Name    string
	Mapping mapping.Mapping
	Raw     []RawRecord
	Data    Table
}

// DecodeError reports a row whose payload could not be decoded or cast.
type DecodeError struct {
	Row   int
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode row %d field %q: %v", e.Row, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, apperror.ErrDecode) match decode errors.
func (e *DecodeError) Is(target error) bool {
	return apperror.ErrDecode.Is(target)
}
