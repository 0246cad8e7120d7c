package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emergent-company/goldzone/domain/pipeline"
)

var transformFlags windowFlags

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Move chatbot logs of a window into the gold zone",
	Long: `Fetches every mapped log category for the window, transforms, cleans and
samples the records, reconciles them with the gold-zone dimensions and writes
the new facts.

Examples:
  goldzone transform
  goldzone transform --lookback 48h
  goldzone transform --start 2024-03-01T00:00:00Z --end 2024-03-02T00:00:00Z`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		start, end, err := transformFlags.resolve(time.Now())
		if err != nil {
			return err
		}
		return runJob(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline, _ *slog.Logger) error {
			report, err := p.RunTransform(ctx, start, end)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

var prepFlags windowFlags

var prepCmd = &cobra.Command{
	Use:   "prep",
	Short: "Write evaluation input for the configured application",
	Long: `Reads the facts of the window, keeps those of APP_NAME / APP_TYPE, attaches
METRIC_NAMES and writes one evaluation_fact_<timestamp>.jsonl file under
PREP_OUTPUT_PATH. Fails when no fact qualifies.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		start, end, err := prepFlags.resolve(time.Now())
		if err != nil {
			return err
		}
		return runJob(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline, _ *slog.Logger) error {
			report, err := p.RunPrep(ctx, start, end)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

var writeMetricsCmd = &cobra.Command{
	Use:   "write-metrics",
	Short: "Write evaluator output as metric facts",
	Long: `Reads every evaluator output file under EVAL_OUTPUT_PATH, provisions unknown
metrics and upserts one metric fact per evaluated row.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runJob(cmd.Context(), func(ctx context.Context, p *pipeline.Pipeline, _ *slog.Logger) error {
			report, err := p.RunWriteMetrics(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

func init() {
	transformFlags.register(transformCmd)
	prepFlags.register(prepCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
