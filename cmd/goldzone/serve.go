package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/domain/health"
	"github.com/emergent-company/goldzone/domain/scheduler"
	"github.com/emergent-company/goldzone/domain/tracing"
	"github.com/emergent-company/goldzone/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled transforms and the HTTP surface",
	Long: `Runs the transform job on TRANSFORM_SCHEDULE over the trailing
TRANSFORM_LOOKBACK and serves:

  GET  /health               database and storage checks
  GET  /metrics              Prometheus metrics
  POST /api/runs/transform   start a transform run now`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app := fx.New(
			pipelineOptions(),
			server.Module,
			tracing.HTTPModule,
			health.Module,
			scheduler.Module,
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}
