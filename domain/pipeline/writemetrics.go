package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/emergent-company/goldzone/domain/evalmetrics"
	"github.com/emergent-company/goldzone/pkg/tracing"
)

// WriteMetricsReport summarises one write-metrics run.
type WriteMetricsReport struct {
	InputRows      int `json:"input_rows"`
	SuccessfulRows int `json:"successful_rows"`
	Facts          int `json:"facts"`
	Failed         int `json:"failed"`
	Merged         int `json:"merged"`
	Provisioned    int `json:"provisioned"`
}

// RunWriteMetrics reads the evaluator output, resolves its metrics and
// upserts the metric facts. A count mismatch between prepared input and
// evaluator output is logged, not retried.
func (p *Pipeline) RunWriteMetrics(ctx context.Context) (report WriteMetricsReport, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.write_metrics")
	defer span.End()
	defer func() {
		recordRun(JobWriteMetrics, err)
		tracing.Fail(span, err)
	}()

	rows, successful, err := p.readEvaluatorOutput(ctx)
	if err != nil {
		return report, err
	}
	report.SuccessfulRows = successful

	if report.InputRows, err = p.countPrepared(ctx); err != nil {
		return report, err
	}
	span.SetAttributes(
		attribute.Int("goldzone.eval.input_rows", report.InputRows),
		attribute.Int("goldzone.eval.output_rows", report.SuccessfulRows),
	)

	facts, stats, err := p.metrics.Process(ctx, rows)
	if err != nil {
		return report, err
	}
	report.Facts = stats.Facts
	report.Failed = stats.Failed
	report.Merged = stats.Merged
	report.Provisioned = stats.Provisioned

	if err := p.metrics.Write(ctx, facts); err != nil {
		return report, err
	}
	p.metrics.RecordCounts(report.InputRows, report.SuccessfulRows)

	p.log.Info("metric facts written",
		slog.Int("input_rows", report.InputRows),
		slog.Int("successful_rows", report.SuccessfulRows),
		slog.Int("facts", report.Facts),
		slog.Int("failed", report.Failed),
		slog.Int("merged", report.Merged),
		slog.Int("provisioned", report.Provisioned),
	)
	return report, nil
}

func (p *Pipeline) readEvaluatorOutput(ctx context.Context) ([]evalmetrics.ResultRow, int, error) {
	keys, err := p.listJSONL(ctx, p.cfg.EvalOutputPath)
	if err != nil {
		return nil, 0, err
	}
	var (
		rows  []evalmetrics.ResultRow
		lines int
	)
	for _, key := range keys {
		r, err := p.tables.Objects().Get(ctx, key)
		if err != nil {
			return nil, 0, err
		}
		got, n, err := evalmetrics.ReadResults(r)
		r.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", key, err)
		}
		rows = append(rows, got...)
		lines += n
	}
	p.log.Info("evaluator output read", slog.Int("files", len(keys)), slog.Int("rows", len(rows)))
	return rows, lines, nil
}

// countPrepared sums the records of every prepared-data file.
func (p *Pipeline) countPrepared(ctx context.Context) (int, error) {
	keys, err := p.listJSONL(ctx, p.cfg.PrepOutputPath)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, key := range keys {
		r, err := p.tables.Objects().Get(ctx, key)
		if err != nil {
			return 0, err
		}
		n, err := evalmetrics.CountRecords(r)
		r.Close()
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", key, err)
		}
		total += n
	}
	return total, nil
}

func (p *Pipeline) listJSONL(ctx context.Context, root string) ([]string, error) {
	keys, err := p.tables.Objects().List(ctx, strings.TrimSuffix(root, "/")+"/")
	if err != nil {
		return nil, err
	}
	out := keys[:0:0]
	for _, k := range keys {
		if strings.HasSuffix(k, ".jsonl") {
			out = append(out, k)
		}
	}
	return out, nil
}
