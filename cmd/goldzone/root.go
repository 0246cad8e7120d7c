package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/goldzone/domain/evalmetrics"
	"github.com/emergent-company/goldzone/domain/goldzone"
	"github.com/emergent-company/goldzone/domain/pipeline"
	"github.com/emergent-company/goldzone/domain/tracing"
	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/database"
	"github.com/emergent-company/goldzone/internal/logstore"
	"github.com/emergent-company/goldzone/internal/secrets"
	"github.com/emergent-company/goldzone/internal/storage"
	"github.com/emergent-company/goldzone/internal/tablestore"
	"github.com/emergent-company/goldzone/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "goldzone",
	Short: "Chatbot log gold-zone pipeline",
	Long: `Moves chatbot conversation logs into the gold-zone star schema, prepares
evaluation input from it and writes the evaluator's scores back as metric
facts.

Configuration is read from the environment (and .env / .env.local).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, transformCmd, prepCmd, writeMetricsCmd, migrateCmd)
}

// pipelineOptions are the modules every pipeline job needs.
func pipelineOptions() fx.Option {
	return fx.Options(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		storage.Module,
		tablestore.Module,
		secrets.Module,
		logstore.Module,
		tracing.Module,

		// Domain
		goldzone.Module,
		evalmetrics.Module,
		pipeline.Module,
	)
}

// runJob starts the pipeline's dependencies, runs fn once and stops them.
func runJob(ctx context.Context, fn func(ctx context.Context, p *pipeline.Pipeline, log *slog.Logger) error) error {
	var (
		p   *pipeline.Pipeline
		log *slog.Logger
	)
	app := fx.New(pipelineOptions(), fx.Populate(&p, &log))
	if err := app.Err(); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			log.Warn("shutdown incomplete", logger.Error(err))
		}
	}()

	if err := fn(ctx, p, log); err != nil {
		log.Error("job failed", logger.Error(err))
		return err
	}
	return nil
}

// windowFlags holds a [start, end] window given on the command line.
type windowFlags struct {
	start    string
	end      string
	lookback time.Duration
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.start, "start", "", "window start (RFC 3339); default end minus --lookback")
	cmd.Flags().StringVar(&w.end, "end", "", "window end (RFC 3339); default now")
	cmd.Flags().DurationVar(&w.lookback, "lookback", 24*time.Hour, "window length when --start is not given")
}

// resolve returns the window, defaulting to the trailing lookback up to now.
func (w *windowFlags) resolve(now time.Time) (start, end time.Time, err error) {
	end = now.UTC()
	if w.end != "" {
		if end, err = time.Parse(time.RFC3339, w.end); err != nil {
			return start, end, fmt.Errorf("--end: %w", err)
		}
	}
	start = end.Add(-w.lookback)
	if w.start != "" {
		if start, err = time.Parse(time.RFC3339, w.start); err != nil {
			return start, end, fmt.Errorf("--start: %w", err)
		}
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("window start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}
