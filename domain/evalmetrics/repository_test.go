package evalmetrics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/emergent-company/goldzone/internal/database"
	"github.com/emergent-company/goldzone/internal/migrate"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	require.NoError(t, migrate.NewSQLMigrator(sqldb, "sqlite", zap.NewNop()).Up(context.Background()))
	return database.NewBun(sqldb, "sqlite")
}

func TestRepository_InsertMetricIgnoresDuplicate(t *testing.T) {
	repo := NewRepository(setupDB(t), quietLogger())
	ctx := context.Background()

	m := &DimMetric{MetricName: "turn_relevance", MetricVersion: "1.0", MetricType: MetricTypeNumerical}
	require.NoError(t, repo.InsertMetric(ctx, m))
	require.NoError(t, repo.InsertMetric(ctx, &DimMetric{MetricName: "turn_relevance", MetricVersion: "1.0", MetricType: MetricTypeCategorical}))

	found, err := repo.FindMetric(ctx, "turn_relevance", "1.0")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, MetricTypeNumerical, found.MetricType)

	missing, err := repo.FindMetric(ctx, "turn_relevance", "2.0")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReconciler_ProvisionsAndUpserts(t *testing.T) {
	db := setupDB(t)
	repo := NewRepository(db, quietLogger())
	r := NewReconciler(repo, quietLogger())
	ctx := context.Background()
	ts := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)

	rows := []ResultRow{
		{EvaluationDatasetID: "e1", ConversationID: "c1", MetadataID: "m1", MetricName: "turn_relevance", MetricVersion: "1.0", MetricType: MetricTypeNumerical, MetricValue: "4", MetricRawValue: "4", Timestamp: ts},
		{EvaluationDatasetID: "e2", ConversationID: "c1", MetadataID: "m1", MetricName: "turn_relevance", MetricVersion: "1.0", MetricType: MetricTypeNumerical, MetricValue: "2", MetricRawValue: "2", Timestamp: ts},
	}

	facts, stats, err := r.Process(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Provisioned)
	require.Len(t, facts, 2)
	require.NoError(t, r.Write(ctx, facts))

	// A second run updates the same keys in place.
	rows[0].MetricValue = "5"
	rows[0].MetricRawValue = "5"
	facts, stats, err = r.Process(ctx, rows[:1])
	require.NoError(t, err)
	assert.Zero(t, stats.Provisioned)
	require.NoError(t, r.Write(ctx, facts))

	stored, err := repo.SelectFactsByRange(ctx, RangeQuery{Start: ts.Add(-time.Hour), End: ts.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	byDataset := map[string]FactEvaluationMetric{}
	for _, f := range stored {
		byDataset[f.EvaluationDatasetID] = f
	}
	require.NotNil(t, byDataset["e1"].MetricNumericValue)
	assert.Equal(t, 5.0, *byDataset["e1"].MetricNumericValue)
	assert.Equal(t, "5", byDataset["e1"].MetricRawValue)
	assert.Nil(t, byDataset["e1"].MetricStrValue)

	dim, err := repo.FindMetric(ctx, "turn_relevance", "1.0")
	require.NoError(t, err)
	assert.Equal(t, DefaultEvaluatorType, dim.EvaluatorType)
	assert.Equal(t, "turn_relevance", dim.EvaluatorName)
	assert.Equal(t, SystemUser, dim.CreatedBy)
}

func TestRepository_UpsertFactsMergesRepeatedKeys(t *testing.T) {
	db := setupDB(t)
	repo := NewRepository(db, quietLogger())
	ctx := context.Background()
	ts := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)

	m := &DimMetric{MetricName: "turn_relevance", MetricVersion: "1.0", MetricType: MetricTypeNumerical}
	require.NoError(t, repo.InsertMetric(ctx, m))
	dim, err := repo.FindMetric(ctx, "turn_relevance", "1.0")
	require.NoError(t, err)

	fact := func(value float64, raw string) FactEvaluationMetric {
		return FactEvaluationMetric{
			MetricID:            dim.MetricID,
			EvaluationDatasetID: "e1",
			MetricNumericValue:  &value,
			MetricRawValue:      raw,
			FactCreationTime:    ts,
		}
	}

	n, err := repo.UpsertFacts(ctx, []FactEvaluationMetric{fact(1, "1"), fact(3, "3")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := repo.SelectFactsByRange(ctx, RangeQuery{Start: ts.Add(-time.Hour), End: ts.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 3.0, *stored[0].MetricNumericValue)
	assert.Equal(t, "3", stored[0].MetricRawValue)
}

func TestRepository_SelectFactsByRangeFilters(t *testing.T) {
	db := setupDB(t)
	repo := NewRepository(db, quietLogger())
	ctx := context.Background()
	ts := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertMetric(ctx, &DimMetric{MetricName: "a", MetricVersion: "1", MetricType: MetricTypeNumerical}))
	require.NoError(t, repo.InsertMetric(ctx, &DimMetric{MetricName: "b", MetricVersion: "1", MetricType: MetricTypeNumerical}))
	a, err := repo.FindMetric(ctx, "a", "1")
	require.NoError(t, err)
	b, err := repo.FindMetric(ctx, "b", "1")
	require.NoError(t, err)

	v := 1.0
	_, err = repo.UpsertFacts(ctx, []FactEvaluationMetric{
		{MetricID: a.MetricID, EvaluationDatasetID: "e1", MetricNumericValue: &v, FactCreationTime: ts},
		{MetricID: b.MetricID, EvaluationDatasetID: "e1", MetricNumericValue: &v, FactCreationTime: ts},
		{MetricID: a.MetricID, EvaluationDatasetID: "e2", MetricNumericValue: &v, FactCreationTime: ts.Add(48 * time.Hour)},
	})
	require.NoError(t, err)

	got, err := repo.SelectFactsByRange(ctx, RangeQuery{Start: ts, End: ts.Add(time.Hour), MetricIDs: []int64{a.MetricID}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].EvaluationDatasetID)
	assert.Equal(t, a.MetricID, got[0].MetricID)
}
