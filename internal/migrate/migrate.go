// Package migrate provides database migration functionality using Goose.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/migrations"
)

// Module provides migration dependencies.
var Module = fx.Options(
	fx.Provide(NewZapLogger),
	fx.Provide(NewMigrator),
)

// NewZapLogger builds the migrator's zap logger for the environment.
func NewZapLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Migrator handles database migrations.
type Migrator struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *bun.DB, cfg *config.Config, logger *zap.Logger) *Migrator {
	return NewSQLMigrator(db.DB, cfg.Database.Driver, logger)
}

// NewSQLMigrator creates a Migrator over a raw connection for driver
// ("postgres" or "sqlite").
func NewSQLMigrator(db *sql.DB, driver string, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		driver: driver,
		logger: logger.Named("migrator"),
	}
}

// setup points goose at the embedded files of the migrator's dialect and
// returns their directory.
func (m *Migrator) setup() (string, error) {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{m.logger.Sugar()})

	dialect, dir := "postgres", "postgres"
	if m.driver == "sqlite" {
		dialect, dir = "sqlite3", "sqlite"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("failed to set dialect: %w", err)
	}
	return dir, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("running database migrations", zap.String("driver", m.driver))

	dir, err := m.setup()
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.logger.Info("migrations completed successfully")
	return nil
}

// UpTo runs migrations up to a specific version.
func (m *Migrator) UpTo(ctx context.Context, version int64) error {
	m.logger.Info("running database migrations up to version", zap.Int64("version", version))

	dir, err := m.setup()
	if err != nil {
		return err
	}
	if err := goose.UpToContext(ctx, m.db, dir, version); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	m.logger.Info("migrations completed successfully", zap.Int64("version", version))
	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Info("rolling back last migration")

	dir, err := m.setup()
	if err != nil {
		return err
	}
	if err := goose.DownContext(ctx, m.db, dir); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	m.logger.Info("rollback completed successfully")
	return nil
}

// Status logs the state of every migration.
func (m *Migrator) Status(ctx context.Context) error {
	dir, err := m.setup()
	if err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, m.db, dir); err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	return nil
}

// Version returns the current database version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	if _, err := m.setup(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.s.Fatalf(format, v...) }
func (l gooseLogger) Printf(format string, v ...interface{}) { l.s.Infof(format, v...) }
