package goldzone

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// Result is the outcome of one reconciliation. Facts holds only rows whose
// composite key was not stored before; the dimension slices are the complete
// updated tables.
type Result struct {
	Facts             transform.Table
	Metadata          []MetadataRow
	Sessions          []SessionRow
	Routers           []RouterFunctionRow
	NewMetadata       int
	NewRouters        int
	DroppedDuplicates int
}

// Reconciler merges a sampled batch into the gold-zone dimensions.
type Reconciler struct {
	schema Schema
	log    *slog.Logger
	newID  func() string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithIDGenerator replaces the surrogate id generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Reconciler) { r.newID = gen }
}

// NewReconciler creates a reconciler for the given schema.
func NewReconciler(schema Schema, log *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		schema: schema,
		log:    log.With(logger.Scope("goldzone")),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schema returns the reconciler's column layout.
func (r *Reconciler) Schema() Schema {
	return r.schema
}

// Reconcile resolves every surrogate key of the batch and returns the new
// facts with the updated dimensions. Any error aborts the whole batch and
// nothing in the result should be written.
func (r *Reconciler) Reconcile(batch transform.Table, state State) (Result, error) {
	if err := r.checkColumns(batch); err != nil {
		return Result{}, err
	}

	rows := make([]transform.Row, len(batch.Rows))
	for i, row := range batch.Rows {
		rows[i] = row.Clone()
	}
	columns := append([]string(nil), batch.Columns...)

	var res Result

	res.Metadata, res.NewMetadata = r.resolveMetadata(rows, state.Metadata)
	columns = appendColumn(columns, ColumnMetadataID)

	res.Routers = state.Routers
	if r.schema.RouterColumn != "" {
		res.Routers, res.NewRouters = r.resolveRouters(rows, state.Routers, hasColumn(columns, r.schema.RouterColumn))
		columns = appendColumn(columns, ColumnRouterFunctionID)
	}

	sessions, err := r.resolveSessions(rows, state.Sessions)
	if err != nil {
		return Result{}, err
	}
	res.Sessions = sessions

	if err := r.resolveApps(rows, state.Apps); err != nil {
		return Result{}, err
	}
	columns = appendColumn(columns, ColumnAppID)

	for _, row := range rows {
		row[ColumnEvaluationDatasetID] = r.newID()
	}
	columns = appendColumn(columns, ColumnEvaluationDatasetID)

	facts := transform.Table{Columns: columns, Rows: rows}
	facts.DropColumns(r.schema.DropColumns...)
	facts.Rows, res.DroppedDuplicates = r.dedupFacts(facts.Rows, state.FactKeys)
	res.Facts = facts

	r.log.Info("gold zone reconciled",
		slog.Int("batch_rows", len(batch.Rows)),
		slog.Int("new_facts", len(facts.Rows)),
		slog.Int("dropped_duplicates", res.DroppedDuplicates),
		slog.Int("new_metadata", res.NewMetadata),
		slog.Int("new_router_functions", res.NewRouters),
		slog.Int("sessions", len(res.Sessions)),
	)
	return res, nil
}

func (r *Reconciler) checkColumns(batch transform.Table) error {
	required := append([]string{ColumnConversationID, ColumnResponseTime, ColumnAppName, ColumnAppType}, r.schema.MetadataAttributes...)
	if r.schema.SessionColumn != "" {
		required = append(required, r.schema.SessionColumn)
	}
	var missing []string
	for _, c := range required {
		if !batch.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return apperror.NewConfiguration("batch is missing columns %v", missing)
	}
	return nil
}

// resolveMetadata attaches metadata_id to every row. Existing tuples keep
// their ids; unseen tuples get one new id each.
func (r *Reconciler) resolveMetadata(rows []transform.Row, existing []MetadataRow) ([]MetadataRow, int) {
	attrs := r.schema.MetadataAttributes
	index := make(map[string]string, len(existing))
	for _, m := range existing {
		index[m.key(attrs)] = m.MetadataID
	}

	out := append([]MetadataRow(nil), existing...)
	added := 0
	for _, row := range rows {
		values := make([]string, len(attrs))
		for i, a := range attrs {
			values[i] = row.String(a)
		}
		key := tupleKey(values...)
		id, ok := index[key]
		if !ok {
			id = r.newID()
			index[key] = id
			m := MetadataRow{MetadataID: id, Attributes: make(map[string]string, len(attrs))}
			for i, a := range attrs {
				m.Attributes[a] = values[i]
			}
			out = append(out, m)
			added++
		}
		row[ColumnMetadataID] = id
	}
	return out, added
}

// resolveRouters attaches router_function_id, defaulting the router function
// to "NA" when the batch has no such column.
func (r *Reconciler) resolveRouters(rows []transform.Row, existing []RouterFunctionRow, present bool) ([]RouterFunctionRow, int) {
	col := r.schema.RouterColumn
	index := make(map[string]string, len(existing))
	for _, rf := range existing {
		index[rf.RouterFunction] = rf.RouterFunctionID
	}

	out := append([]RouterFunctionRow(nil), existing...)
	added := 0
	for _, row := range rows {
		name := RouterFunctionDefault
		if present {
			name = row.String(col)
		}
		id, ok := index[name]
		if !ok {
			id = r.newID()
			index[name] = id
			out = append(out, RouterFunctionRow{RouterFunctionID: id, RouterFunction: name})
			added++
		}
		row[ColumnRouterFunctionID] = id
	}
	return out, added
}

// resolveSessions recomputes start and end for every session key in the
// batch and replaces the stored rows for those keys. A key whose batch rows
// carry no timestamp at all is not written.
func (r *Reconciler) resolveSessions(rows []transform.Row, existing []SessionRow) ([]SessionRow, error) {
	type span struct {
		row      SessionRow
		hasStart bool
		hasEnd   bool
	}
	spans := make(map[string]*span)
	var order []string

	for i, row := range rows {
		s := SessionRow{ConversationID: row.String(ColumnConversationID)}
		if r.schema.SessionColumn != "" {
			s.SessionID = row.String(r.schema.SessionColumn)
		}
		key := s.key()
		sp, ok := spans[key]
		if !ok {
			sp = &span{row: s}
			spans[key] = sp
			order = append(order, key)
		}

		end, hasEnd, err := toTime(row[ColumnResponseTime])
		if err != nil {
			return nil, fmt.Errorf("row %d %s: %w", i, ColumnResponseTime, err)
		}
		start, hasStart := end, hasEnd
		if v, present := row[ColumnQueryTime]; present && v != nil {
			if start, hasStart, err = toTime(v); err != nil {
				return nil, fmt.Errorf("row %d %s: %w", i, ColumnQueryTime, err)
			}
			if !hasStart {
				start, hasStart = end, hasEnd
			}
		}

		if hasStart && (!sp.hasStart || start.Before(sp.row.StartTime)) {
			sp.row.StartTime, sp.hasStart = start, true
		}
		if hasEnd && (!sp.hasEnd || end.After(sp.row.EndTime)) {
			sp.row.EndTime, sp.hasEnd = end, true
		}
	}

	for _, key := range order {
		sp := spans[key]
		if sp.hasStart || sp.hasEnd {
			continue
		}
		r.log.Warn("session has no usable timestamps, keeping stored bounds",
			slog.String("session_id", sp.row.SessionID),
			slog.String("conversation_id", sp.row.ConversationID),
		)
		delete(spans, key)
	}

	out := make([]SessionRow, 0, len(existing)+len(order))
	for _, old := range existing {
		sp, ok := spans[old.key()]
		if !ok {
			out = append(out, old)
			continue
		}
		if sp.row.StartTime.After(old.StartTime) || sp.row.EndTime.Before(old.EndTime) {
			r.log.Warn("session bounds narrowed by batch",
				slog.String("session_id", old.SessionID),
				slog.String("conversation_id", old.ConversationID),
				slog.Time("stored_start", old.StartTime),
				slog.Time("stored_end", old.EndTime),
				slog.Time("batch_start", sp.row.StartTime),
				slog.Time("batch_end", sp.row.EndTime),
			)
		}
		out = append(out, sp.row)
		delete(spans, old.key())
	}
	for _, key := range order {
		if sp, ok := spans[key]; ok {
			out = append(out, sp.row)
		}
	}
	return out, nil
}

// resolveApps attaches app_id by (app_name, app_type). An unknown pair aborts
// the batch.
func (r *Reconciler) resolveApps(rows []transform.Row, apps []AppRow) error {
	index := make(map[string]int64, len(apps))
	for _, a := range apps {
		index[tupleKey(a.Name, a.Type)] = a.AppID
	}

	for i, row := range rows {
		name, typ := row.String(ColumnAppName), row.String(ColumnAppType)
		id, ok := index[tupleKey(name, typ)]
		if !ok {
			return apperror.ErrUnknownApplication.WithDetails(map[string]any{
				"app_name": name,
				"app_type": typ,
				"row":      i,
			})
		}
		row[ColumnAppID] = id
	}
	return nil
}

// dedupFacts drops rows whose composite key is already stored. Rows repeating
// a key within the batch keep only their first occurrence.
func (r *Reconciler) dedupFacts(rows []transform.Row, stored map[string]struct{}) ([]transform.Row, int) {
	seen := make(map[string]struct{}, len(rows))
	kept := make([]transform.Row, 0, len(rows))
	for _, row := range rows {
		key := FactKey(r.schema, row)
		if _, ok := stored[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	return kept, len(rows) - len(kept)
}

// FactKey returns the composite natural key of a fact row.
func FactKey(schema Schema, row transform.Row) string {
	parts := make([]string, len(schema.FactKey))
	for i, c := range schema.FactKey {
		parts[i] = row.String(c)
	}
	return tupleKey(parts...)
}

// FactKeys collects the composite keys of stored facts.
func FactKeys(schema Schema, facts ...transform.Table) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, t := range facts {
		for _, row := range t.Rows {
			keys[FactKey(schema, row)] = struct{}{}
		}
	}
	return keys
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func appendColumn(columns []string, name string) []string {
	if hasColumn(columns, name) {
		return columns
	}
	return append(columns, name)
}
