package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/database"
	"github.com/emergent-company/goldzone/internal/migrate"
	"github.com/emergent-company/goldzone/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|up-to VERSION|down|status|version]",
	Short: "Manage the relational store schema",
	Long: `Applies the embedded goose migrations (dim_app, dim_metric,
fact_evaluation_metric) to the store selected by DB_DRIVER.

Examples:
  goldzone migrate up
  goldzone migrate up-to 2
  goldzone migrate status`,
	Args:      cobra.RangeArgs(0, 2),
	ValidArgs: []string{"up", "up-to", "down", "status", "version"},
	RunE:      runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	var m *migrate.Migrator
	app := fx.New(
		fx.NopLogger,
		logger.Module,
		config.Module,
		fx.Provide(openMigrationDB),
		migrate.Module,
		fx.Populate(&m),
	)
	if err := app.Err(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop(context.Background())

	switch action {
	case "up":
		return m.Up(ctx)
	case "up-to":
		if len(args) < 2 {
			return fmt.Errorf("up-to needs a version")
		}
		version, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return m.UpTo(ctx, version)
	case "down":
		return m.Down(ctx)
	case "status":
		return m.Status(ctx)
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	}
	return fmt.Errorf("unknown migrate action %q", action)
}

// openMigrationDB opens a dedicated connection for schema changes. Postgres
// goes through pgdriver rather than the pgx pool so that DDL runs on a plain
// single-purpose connection.
func openMigrationDB(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*bun.DB, error) {
	log = log.With(logger.Scope("migrate"))

	var db *bun.DB
	if cfg.Database.IsSQLite() {
		sqldb, err := database.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		db = database.NewBun(sqldb, cfg.Database.Driver)
	} else {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN())))
		db = bun.NewDB(sqldb, pgdialect.New())

		ctx, cancel := context.WithTimeout(context.Background(), database.WakeUpBudget(cfg))
		defer cancel()
		if err := database.WakeUp(ctx, db, cfg.Database.WakeUpAttempts, cfg.Database.WakeUpWait, log); err != nil {
			db.Close()
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}
