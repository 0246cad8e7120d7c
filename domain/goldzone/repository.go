package goldzone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// AppRepository reads the application dimension from the relational store.
type AppRepository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewAppRepository creates a new application repository
func NewAppRepository(db bun.IDB, log *slog.Logger) *AppRepository {
	return &AppRepository{db: db, log: log.With(logger.Scope("app-repo"))}
}

// List returns every registered application.
func (r *AppRepository) List(ctx context.Context) ([]AppRow, error) {
	var apps []AppRow
	err := r.db.NewSelect().
		Model(&apps).
		OrderExpr("app_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(fmt.Errorf("list applications: %w", err))
	}
	r.log.Debug("applications loaded", slog.Int("count", len(apps)))
	return apps, nil
}

// FindByNameType returns the application registered under (name, type).
func (r *AppRepository) FindByNameType(ctx context.Context, name, appType string) (*AppRow, error) {
	app := new(AppRow)
	err := r.db.NewSelect().
		Model(app).
		Where("name = ?", name).
		Where("type = ?", appType).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrUnknownApplication.WithDetails(map[string]any{
			"app_name": name,
			"app_type": appType,
		})
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(fmt.Errorf("find application: %w", err))
	}
	return app, nil
}

// Create registers an application. Provisioning is an operator action; the
// pipeline never calls this on its own.
func (r *AppRepository) Create(ctx context.Context, app *AppRow) error {
	if _, err := r.db.NewInsert().Model(app).Returning("*").Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("create application: %w", err))
	}
	return nil
}
