package pipeline

import (
	"context"
	"log/slog"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/emergent-company/goldzone/domain/goldzone"
	"github.com/emergent-company/goldzone/domain/prepdata"
	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/tracing"
)

// PrepReport summarises one prep run.
type PrepReport struct {
	AppID int64  `json:"app_id"`
	Rows  int    `json:"rows"`
	Units int    `json:"units"`
	Key   string `json:"key"`
}

// RunPrep writes the evaluation input for the configured application's
// facts in [start, end]. It fails with apperror.ErrEmptyResult when no fact
// qualifies.
func (p *Pipeline) RunPrep(ctx context.Context, start, end time.Time) (report PrepReport, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.prep",
		attribute.String("goldzone.app.name", p.cfg.AppName),
		attribute.String("goldzone.app.type", p.cfg.AppType),
	)
	defer span.End()
	defer func() {
		recordRun(JobPrep, err)
		tracing.Fail(span, err)
	}()

	// Validate metric names before any I/O.
	if _, err := prepdata.AttachMetricNames(transform.Table{}, p.cfg.MetricNames); err != nil {
		return report, err
	}

	app, err := p.apps.FindByNameType(ctx, p.cfg.AppName, p.cfg.AppType)
	if err != nil {
		return report, err
	}
	report.AppID = app.AppID

	facts, err := p.tables.ReadRange(ctx, p.cfg.FactPath, start, end)
	if err != nil {
		return report, err
	}
	filtered, err := prepdata.Filter(facts, app.AppID, goldzone.ColumnResponseTime, start, end)
	if err != nil {
		return report, err
	}
	p.log.Info("facts filtered for evaluation",
		slog.Int64("app_id", app.AppID),
		slog.Int("rows_before", facts.Len()),
		slog.Int("rows_after", filtered.Len()),
	)
	if filtered.Len() == 0 {
		return report, apperror.ErrEmptyResult
	}
	report.Rows = filtered.Len()

	withMetrics, err := prepdata.AttachMetricNames(filtered, p.cfg.MetricNames)
	if err != nil {
		return report, err
	}
	units, err := prepdata.Group(withMetrics, p.cfg.GroupBySession, goldzone.ColumnResponseTime)
	if err != nil {
		return report, err
	}
	report.Units = len(units)

	data, err := prepdata.Encode(units)
	if err != nil {
		return report, err
	}
	report.Key = path.Join(p.cfg.PrepOutputPath, prepdata.FileName(p.now()))
	if err := p.tables.Objects().Put(ctx, report.Key, data); err != nil {
		return report, err
	}

	p.log.Info("evaluation input written",
		slog.String("key", report.Key),
		slog.Int("rows", report.Rows),
		slog.Int("units", report.Units),
		slog.Bool("group_by_session", p.cfg.GroupBySession),
	)
	return report, nil
}
