package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/emergent-company/goldzone/domain/goldzone"
	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/internal/tablestore"
	"github.com/emergent-company/goldzone/pkg/logger"
	"github.com/emergent-company/goldzone/pkg/tracing"
)

// TransformReport summarises one transform run.
type TransformReport struct {
	BatchID           string         `json:"batch_id"`
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	Fetched           map[string]int `json:"fetched"`
	Skipped           map[string]int `json:"skipped"`
	Sampled           int            `json:"sampled"`
	NewFacts          int            `json:"new_facts"`
	DroppedDuplicates int            `json:"dropped_duplicates"`
	FactKeys          []string       `json:"fact_keys,omitempty"`
}

// RunTransform moves the logs generated in [start, end] into the gold zone.
// It returns apperror.ErrConflict when another run is in progress. Nothing
// is written unless every stage succeeds.
func (p *Pipeline) RunTransform(ctx context.Context, start, end time.Time) (report TransformReport, err error) {
	release, err := p.acquire()
	if err != nil {
		return TransformReport{}, err
	}
	defer release()

	ctx, span := tracing.Start(ctx, "pipeline.transform",
		attribute.String("goldzone.window.start", start.UTC().Format(time.RFC3339)),
		attribute.String("goldzone.window.end", end.UTC().Format(time.RFC3339)),
	)
	defer span.End()
	defer func() {
		recordRun(JobTransform, err)
		tracing.Fail(span, err)
	}()

	report = TransformReport{
		BatchID: p.newID(),
		Start:   start,
		End:     end,
		Fetched: make(map[string]int),
		Skipped: make(map[string]int),
	}
	startedAt := time.Now()

	records, err := p.fetch(ctx, start, end)
	if err != nil {
		return report, err
	}

	batch, err := p.prepare(records, &report)
	if err != nil {
		return report, err
	}
	report.Sampled = batch.Len()
	span.SetAttributes(attribute.Int("goldzone.batch.rows", batch.Len()))

	if batch.Len() == 0 {
		p.log.Info("no records in window, nothing to write",
			slog.Time("start", start),
			slog.Time("end", end),
		)
		return report, nil
	}

	state, err := p.loadState(ctx)
	if err != nil {
		return report, err
	}

	res, err := p.reconciler.Reconcile(batch, state)
	if err != nil {
		return report, err
	}
	report.NewFacts = res.Facts.Len()
	report.DroppedDuplicates = res.DroppedDuplicates
	DuplicateFactsDropped.Add(float64(res.DroppedDuplicates))

	if report.FactKeys, err = p.write(ctx, res, report.BatchID); err != nil {
		return report, err
	}
	FactsWritten.Add(float64(report.NewFacts))

	p.log.Info("transform run completed",
		slog.String("batch_id", report.BatchID),
		slog.Int("sampled", report.Sampled),
		slog.Int("new_facts", report.NewFacts),
		slog.Int("dropped_duplicates", report.DroppedDuplicates),
		slog.Duration("duration", time.Since(startedAt)),
	)
	return report, nil
}

// fetch retrieves every mapped category concurrently.
func (p *Pipeline) fetch(ctx context.Context, start, end time.Time) ([]transform.Record, error) {
	records := make([]transform.Record, len(p.mappings.Mappings))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range p.mappings.Mappings {
		g.Go(func() error {
			raw, err := p.fetcher.Fetch(gctx, m.Name, start, end)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", m.Name, err)
			}
			records[i] = transform.Record{Name: m.Name, Mapping: m, Raw: raw}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// prepare runs transform, clean, enrich, concat and sample.
func (p *Pipeline) prepare(records []transform.Record, report *TransformReport) (transform.Table, error) {
	tables := make([]transform.Table, 0, len(records))
	for _, rec := range records {
		RecordsFetched.WithLabelValues(rec.Name).Add(float64(len(rec.Raw)))
		report.Fetched[rec.Name] = len(rec.Raw)

		out, stats, err := p.transformer.Transform(rec)
		if err != nil {
			return transform.Table{}, err
		}
		if n := len(stats.Skipped); n > 0 {
			RecordsSkipped.WithLabelValues(rec.Name).Add(float64(n))
			report.Skipped[rec.Name] = n
		}

		out = transform.TagApplicationType(out)
		before := out.Data.Len()
		data := transform.DropIncomplete(out.Data)
		data = transform.AddConstantColumn(data, ColumnChatbotName, p.cfg.ChatbotName)
		data = transform.AddConstantColumn(data, goldzone.ColumnAppName, p.cfg.ChatbotName)

		p.log.Info("category cleaned",
			slog.String("category", rec.Name),
			slog.Int("rows_before", before),
			slog.Int("rows_after", data.Len()),
		)
		tables = append(tables, data)
	}

	combined := transform.FillMissing(transform.Concat(tables...), transform.MissingValue)
	sampled, err := transform.Sample(combined, p.cfg.SampleFraction)
	if err != nil {
		return transform.Table{}, err
	}
	p.log.Info("batch sampled",
		slog.Int("rows_before", combined.Len()),
		slog.Int("rows_after", sampled.Len()),
		slog.Float64("fraction", p.cfg.SampleFraction),
	)
	return sampled, nil
}

// loadState reads the dimensions, the registered applications and the keys
// of every stored fact.
func (p *Pipeline) loadState(ctx context.Context) (goldzone.State, error) {
	ctx, span := tracing.Start(ctx, "pipeline.load_state")
	defer span.End()

	var (
		state goldzone.State
		err   error
	)
	if state.Metadata, err = tablestore.ReadRecords[goldzone.MetadataRow](ctx, p.tables, p.dimKey(goldzone.DimMetadata)); err != nil {
		return state, tracing.Fail(span, err)
	}
	if state.Sessions, err = tablestore.ReadRecords[goldzone.SessionRow](ctx, p.tables, p.dimKey(goldzone.DimSession)); err != nil {
		return state, tracing.Fail(span, err)
	}
	if state.Routers, err = tablestore.ReadRecords[goldzone.RouterFunctionRow](ctx, p.tables, p.dimKey(goldzone.DimRouterFunction)); err != nil {
		return state, tracing.Fail(span, err)
	}
	if state.Apps, err = p.apps.List(ctx); err != nil {
		return state, tracing.Fail(span, err)
	}

	facts, err := p.tables.ReadAll(ctx, p.cfg.FactPath)
	if err != nil {
		return state, tracing.Fail(span, err)
	}
	state.FactKeys = goldzone.FactKeys(p.reconciler.Schema(), facts)

	p.log.Debug("gold zone state loaded",
		slog.Int("metadata", len(state.Metadata)),
		slog.Int("sessions", len(state.Sessions)),
		slog.Int("router_functions", len(state.Routers)),
		slog.Int("apps", len(state.Apps)),
		slog.Int("stored_facts", len(state.FactKeys)),
	)
	return state, nil
}

// write persists the dimensions before the facts so that a stored fact never
// references a missing dimension row.
func (p *Pipeline) write(ctx context.Context, res goldzone.Result, batchID string) ([]string, error) {
	ctx, span := tracing.Start(ctx, "pipeline.write",
		attribute.Int("goldzone.facts", res.Facts.Len()),
	)
	defer span.End()

	if err := tablestore.WriteRecords(ctx, p.tables, p.dimKey(goldzone.DimMetadata), res.Metadata); err != nil {
		return nil, tracing.Fail(span, err)
	}
	if err := tablestore.WriteRecords(ctx, p.tables, p.dimKey(goldzone.DimSession), res.Sessions); err != nil {
		return nil, tracing.Fail(span, err)
	}
	if p.reconciler.Schema().RouterColumn != "" {
		if err := tablestore.WriteRecords(ctx, p.tables, p.dimKey(goldzone.DimRouterFunction), res.Routers); err != nil {
			return nil, tracing.Fail(span, err)
		}
	}

	if res.Facts.Len() == 0 {
		return nil, nil
	}
	keys, err := p.tables.WritePartitioned(ctx, p.cfg.FactPath, res.Facts, goldzone.ColumnResponseTime, batchID)
	if err != nil {
		p.log.Error("fact write failed", slog.Any("written", keys), logger.Error(err))
		return keys, tracing.Fail(span, err)
	}
	return keys, nil
}
