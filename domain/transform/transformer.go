package transform

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/emergent-company/goldzone/domain/mapping"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// DecodePolicy decides what happens to a row whose payload cannot be decoded.
type DecodePolicy int

const (
	// SkipMalformed drops the row, counts it and logs a warning.
	SkipMalformed DecodePolicy = iota
	// AbortOnMalformed stops the transformation at the first bad row.
	AbortOnMalformed
)

// Stats summarises a transformation.
type Stats struct {
	Input   int
	Output  int
	Skipped []*DecodeError
}

// Transformer applies mappings to raw records.
type Transformer struct {
	log    *slog.Logger
	policy DecodePolicy
}

// NewTransformer creates a transformer with the given decode policy.
func NewTransformer(log *slog.Logger, policy DecodePolicy) *Transformer {
	return &Transformer{
		log:    log.With(logger.Scope("transform")),
		policy: policy,
	}
}

// Transform reshapes rec.Raw into rec.Data with exactly the mapping's target
// columns, plus "response" for llm_data.
func (t *Transformer) Transform(rec Record) (Record, Stats, error) {
	stats := Stats{Input: len(rec.Raw)}
	columns := rec.Mapping.TargetNames()
	extractResponse := rec.Mapping.Name == mapping.LLMData
	if extractResponse {
		columns = append(columns, ResponseColumn)
	}
	data := NewTable(columns...)
	data.Rows = make([]Row, 0, len(rec.Raw))

	t.log.Info("data transformation started",
		slog.String("mapping", rec.Mapping.Name),
		slog.Int("rows", len(rec.Raw)),
	)

	for i, raw := range rec.Raw {
		row, err := TransformRow(i, raw, rec.Mapping, extractResponse)
		if err != nil {
			var decErr *DecodeError
			if t.policy == AbortOnMalformed || !errors.As(err, &decErr) {
				return rec, stats, fmt.Errorf("transform %s: %w", rec.Name, err)
			}
			stats.Skipped = append(stats.Skipped, decErr)
			t.log.Warn("skipping malformed record",
				slog.String("mapping", rec.Mapping.Name),
				slog.Int("row", decErr.Row),
				slog.String("field", decErr.Field),
				logger.Error(decErr.Err),
			)
			continue
		}
		data.Rows = append(data.Rows, row)
	}

	stats.Output = len(data.Rows)
	rec.Data = data

	t.log.Info("data transformation completed",
		slog.String("mapping", rec.Mapping.Name),
		slog.Int("rows", stats.Output),
		slog.Int("skipped", len(stats.Skipped)),
	)
	return rec, stats, nil
}

// TransformRow maps a single raw record. The payload is decoded once and
// every column reads from the decoded object. Decoding and casting failures
// are returned as *DecodeError.
func TransformRow(index int, raw RawRecord, m mapping.Mapping, extractResponse bool) (Row, error) {
	var payload map[string]any
	if err := decodeJSON(raw.Payload, &payload); err != nil {
		return nil, &DecodeError{Row: index, Field: PayloadField, Err: err}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	row := make(Row, len(m.Columns)+1)
	for _, col := range m.Columns {
		if col.SourceName == TimestampSource {
			row[col.TargetName] = raw.GeneratedAt()
			continue
		}
		if col.IsNested() {
			v, field, err := castNested(payload, col)
			if err != nil {
				return nil, &DecodeError{Row: index, Field: field, Err: err}
			}
			row[col.TargetName] = v
			continue
		}
		v, ok := payload[col.SourceName]
		if !ok {
			row[col.TargetName] = nil
			continue
		}
		cast, err := castValue(v, col.DataType)
		if err != nil {
			return nil, &DecodeError{Row: index, Field: col.SourceName, Err: err}
		}
		row[col.TargetName] = cast
	}

	if extractResponse {
		resp, err := completionContent(payload)
		if err != nil {
			return nil, &DecodeError{Row: index, Field: LLMResponseField, Err: err}
		}
		row[ResponseColumn] = resp
	}
	return row, nil
}

// completionContent decodes the nested llm_response JSON string and returns
// choices[0].message.content, or nil when any part of that path is absent.
func completionContent(payload map[string]any) (any, error) {
	raw, ok := payload[LLMResponseField]
	if !ok || raw == nil {
		return nil, nil
	}
	var completion any = raw
	if s, isString := raw.(string); isString {
		if err := decodeJSON(s, &completion); err != nil {
			return nil, err
		}
	}
	obj, ok := completion.(map[string]any)
	if !ok {
		return nil, nil
	}
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, nil
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return nil, nil
	}
	message, ok := first["message"].(map[string]any)
	if !ok {
		return nil, nil
	}
	content, ok := message["content"]
	if !ok || content == nil {
		return nil, nil
	}
	if s, isString := content.(string); isString {
		return s, nil
	}
	return toString(content)
}
