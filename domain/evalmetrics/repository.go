package evalmetrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/emergent-company/goldzone/internal/database"
	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
	"github.com/emergent-company/goldzone/pkg/pgutils"
)

// upsertChunkSize bounds the rows per INSERT statement.
const upsertChunkSize = 500

// Repository persists metric dimensions and facts.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new metrics repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log.With(logger.Scope("metrics-repo"))}
}

// FindMetric returns the DIM_METRIC row for (name, version), or nil when
// there is none.
func (r *Repository) FindMetric(ctx context.Context, name, version string) (*DimMetric, error) {
	m := new(DimMetric)
	err := r.db.NewSelect().
		Model(m).
		Where("metric_name = ?", name).
		Where("metric_version = ?", version).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(fmt.Errorf("find metric %s@%s: %w", name, version, err))
	}
	return m, nil
}

// InsertMetric inserts a metric unless (name, version) already exists. A
// concurrent insert of the same metric is not an error; callers re-select.
func (r *Repository) InsertMetric(ctx context.Context, m *DimMetric) error {
	_, err := r.db.NewInsert().
		Model(m).
		On("CONFLICT (metric_name, metric_version) DO NOTHING").
		Exec(ctx)
	if err != nil && !pgutils.IsUniqueViolation(err) {
		return apperror.ErrDatabase.WithInternal(fmt.Errorf("insert metric %s@%s: %w", m.MetricName, m.MetricVersion, err))
	}
	return nil
}

// UpsertFacts writes facts keyed by (evaluation_dataset_id, metric_id):
// existing keys are updated, new keys inserted. All rows are written in one
// transaction. Facts repeating a key are merged first, the last one winning.
func (r *Repository) UpsertFacts(ctx context.Context, facts []FactEvaluationMetric) (int, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	facts = MergeFacts(facts)

	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(fmt.Errorf("begin upsert: %w", err))
	}
	defer tx.Rollback()

	written := 0
	for start := 0; start < len(facts); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(facts))
		chunk := facts[start:end]
		_, err := tx.NewInsert().
			Model(&chunk).
			On("CONFLICT (evaluation_dataset_id, metric_id) DO UPDATE").
			Set("metric_numeric_value = EXCLUDED.metric_numeric_value").
			Set("metric_str_value = EXCLUDED.metric_str_value").
			Set("metric_raw_value = EXCLUDED.metric_raw_value").
			Set("fact_creation_time = EXCLUDED.fact_creation_time").
			Set("updated_by = EXCLUDED.updated_by").
			Set("updated_date = EXCLUDED.updated_date").
			Exec(ctx)
		if err != nil {
			return 0, apperror.ErrDatabase.WithInternal(fmt.Errorf("upsert facts: %w", err))
		}
		written += len(chunk)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperror.ErrDatabase.WithInternal(fmt.Errorf("commit upsert: %w", err))
	}
	r.log.Info("metric facts upserted", slog.Int("rows", written))
	return written, nil
}

// RangeQuery filters facts by creation time and optional equality filters.
type RangeQuery struct {
	Start     time.Time
	End       time.Time
	AppID     *int64
	MetricIDs []int64
}

// SelectFactsByRange returns facts created within [Start, End].
func (r *Repository) SelectFactsByRange(ctx context.Context, q RangeQuery) ([]FactEvaluationMetric, error) {
	var facts []FactEvaluationMetric
	query := r.db.NewSelect().
		Model(&facts).
		Where("fact_creation_time >= ?", q.Start).
		Where("fact_creation_time <= ?", q.End)

	if q.AppID != nil {
		query = query.Where("app_id = ?", *q.AppID)
	}
	if len(q.MetricIDs) > 0 {
		query = query.Where("metric_id IN (?)", bun.In(q.MetricIDs))
	}

	if err := query.OrderExpr("fact_creation_time ASC, fact_id ASC").Scan(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(fmt.Errorf("select facts by range: %w", err))
	}
	return facts, nil
}
