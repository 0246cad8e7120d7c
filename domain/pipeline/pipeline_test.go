package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/emergent-company/goldzone/domain/evalmetrics"
	"github.com/emergent-company/goldzone/domain/goldzone"
	"github.com/emergent-company/goldzone/domain/mapping"
	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/database"
	"github.com/emergent-company/goldzone/internal/migrate"
	"github.com/emergent-company/goldzone/internal/storage"
	"github.com/emergent-company/goldzone/internal/tablestore"
	"github.com/emergent-company/goldzone/pkg/apperror"
)

const mappingDoc = `
mappings:
  - name: conversation_data
    columns:
      - {source_name: TimeGenerated, target_name: response_time, data_type: datetime}
      - {source_name: conversationId, target_name: conversation_id, data_type: string}
      - {source_name: turnId, target_name: turn_id, data_type: int}
      - {source_name: model, target_name: model, data_type: string}
      - {source_name: intent, target_name: intent, data_type: string}
`

var windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	records map[string][]transform.RawRecord
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, category string, _, _ time.Time) ([]transform.RawRecord, error) {
	return f.records[category], f.err
}

func raw(conv string, turn int, at time.Time) transform.RawRecord {
	return transform.RawRecord{
		Payload:           fmt.Sprintf(`{"conversationId":%q,"turnId":%d,"model":"gpt","intent":"billing"}`, conv, turn),
		GeneratedAtMillis: at.UnixMilli(),
	}
}

type fixture struct {
	pipeline *Pipeline
	objects  storage.ObjectStore
	db       *bun.DB
	fetcher  *fakeFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sqldb, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })
	require.NoError(t, migrate.NewSQLMigrator(sqldb, "sqlite", zap.NewNop()).Up(context.Background()))
	db := database.NewBun(sqldb, "sqlite")

	appRepo := goldzone.NewAppRepository(db, log)
	require.NoError(t, appRepo.Create(context.Background(), &goldzone.AppRow{Name: "helpbot", Type: "conversation"}))

	objects, err := storage.NewLocal(t.TempDir(), log)
	require.NoError(t, err)

	mappings, err := mapping.Parse([]byte(mappingDoc))
	require.NoError(t, err)

	cfg := &config.Config{Pipeline: config.PipelineConfig{
		ChatbotName:    "helpbot",
		AppName:        "helpbot",
		AppType:        "conversation",
		SampleFraction: 1,
		Schema:         "conversation",
		FactPath:       "goldzone/facts",
		DimPath:        "goldzone/dims",
		PrepOutputPath: "evaluation/input",
		EvalOutputPath: "evaluation/output",
		MetricNames:    `[{"metric_name":"turn_relevance","metric_version":1}]`,
	}}

	fetcher := &fakeFetcher{records: map[string][]transform.RawRecord{
		mapping.ConversationData: {
			raw("c1", 1, windowStart.Add(10*time.Hour)),
			raw("c1", 2, windowStart.Add(10*time.Hour+time.Minute)),
			raw("c2", 1, windowStart.Add(11*time.Hour)),
			{Payload: "{broken", GeneratedAtMillis: windowStart.Add(12 * time.Hour).UnixMilli()},
		},
	}}

	p := New(Params{
		Config:     cfg,
		Mappings:   mappings,
		Fetcher:    fetcher,
		Reconciler: goldzone.NewReconcilerFromConfig(cfg, log),
		Apps:       appRepo,
		Tables:     tablestore.New(objects, log),
		Metrics:    evalmetrics.NewReconciler(evalmetrics.NewRepository(db, log), log),
		Log:        log,
	})
	p.now = func() time.Time { return time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC) }

	return &fixture{pipeline: p, objects: objects, db: db, fetcher: fetcher}
}

func windowEnd() time.Time {
	return windowStart.Add(24*time.Hour - time.Nanosecond)
}

func TestRunTransform_WritesFactsAndDimensions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.pipeline.RunTransform(ctx, windowStart, windowEnd())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Fetched[mapping.ConversationData])
	assert.Equal(t, 1, report.Skipped[mapping.ConversationData])
	assert.Equal(t, 3, report.NewFacts)
	assert.Equal(t, []string{"goldzone/facts/year=2024/month=3/day=1/" + report.BatchID + ".jsonl"}, report.FactKeys)

	metadata, err := tablestore.ReadRecords[goldzone.MetadataRow](ctx, f.pipeline.tables, "goldzone/dims/dim_metadata.jsonl")
	require.NoError(t, err)
	require.Len(t, metadata, 1)
	assert.Equal(t, "gpt", metadata[0].Attributes["model"])

	sessions, err := tablestore.ReadRecords[goldzone.SessionRow](ctx, f.pipeline.tables, "goldzone/dims/dim_session.jsonl")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	exists, err := f.objects.Exists(ctx, "goldzone/dims/dim_router_function.jsonl")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRunTransform_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.RunTransform(ctx, windowStart, windowEnd())
	require.NoError(t, err)

	report, err := f.pipeline.RunTransform(ctx, windowStart, windowEnd())
	require.NoError(t, err)
	assert.Equal(t, 0, report.NewFacts)
	assert.Equal(t, 3, report.DroppedDuplicates)
	assert.Empty(t, report.FactKeys)

	facts, err := f.pipeline.tables.ReadAll(ctx, "goldzone/facts")
	require.NoError(t, err)
	assert.Equal(t, 3, facts.Len())
}

func TestRunTransform_EmptyWindowWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.fetcher.records = nil

	report, err := f.pipeline.RunTransform(context.Background(), windowStart, windowEnd())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sampled)

	keys, err := f.objects.List(context.Background(), "goldzone/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRunTransform_FetchErrorWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = errors.New("log store unavailable")

	_, err := f.pipeline.RunTransform(context.Background(), windowStart, windowEnd())
	require.Error(t, err)

	keys, err := f.objects.List(context.Background(), "goldzone/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRunTransform_UnknownApplicationWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.pipeline.cfg.ChatbotName = "otherbot"

	_, err := f.pipeline.RunTransform(context.Background(), windowStart, windowEnd())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrUnknownApplication))

	keys, err := f.objects.List(context.Background(), "goldzone/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRunTransform_RejectsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	release, err := f.pipeline.acquire()
	require.NoError(t, err)
	defer release()

	_, err = f.pipeline.RunTransform(context.Background(), windowStart, windowEnd())
	assert.True(t, errors.Is(err, apperror.ErrConflict))
	assert.True(t, f.pipeline.Running())
}

func TestRunPrep_EmptyResult(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.RunPrep(context.Background(), windowStart, windowEnd())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrEmptyResult))
}

func TestRunPrep_InvalidMetricNamesFailsFirst(t *testing.T) {
	f := newFixture(t)
	f.pipeline.cfg.MetricNames = "[]"

	_, err := f.pipeline.RunPrep(context.Background(), windowStart, windowEnd())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConfiguration))
}

func TestEndToEnd_TransformPrepWriteMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.RunTransform(ctx, windowStart, windowEnd())
	require.NoError(t, err)

	prep, err := f.pipeline.RunPrep(ctx, windowStart, windowEnd())
	require.NoError(t, err)
	assert.Equal(t, "evaluation/input/evaluation_fact_20240302060000.jsonl", prep.Key)
	assert.Equal(t, 3, prep.Rows)
	assert.Equal(t, 3, prep.Units)

	evaluate(t, f.objects, prep.Key, "evaluation/output/results.jsonl")

	report, err := f.pipeline.RunWriteMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.InputRows)
	assert.Equal(t, 3, report.SuccessfulRows)
	assert.Equal(t, 3, report.Facts)
	assert.Equal(t, 1, report.Provisioned)

	var stored []evalmetrics.FactEvaluationMetric
	require.NoError(t, f.db.NewSelect().Model(&stored).Scan(ctx))
	require.Len(t, stored, 3)
	for _, fact := range stored {
		require.NotNil(t, fact.MetricNumericValue)
		assert.Equal(t, 4.0, *fact.MetricNumericValue)
		assert.Equal(t, "Score: 4", fact.MetricRawValue)
	}

	// Reading the same output again updates in place.
	_, err = f.pipeline.RunWriteMetrics(ctx)
	require.NoError(t, err)
	count, err := f.db.NewSelect().Model((*evalmetrics.FactEvaluationMetric)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRunWriteMetrics_OverlappingOutputFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.RunTransform(ctx, windowStart, windowEnd())
	require.NoError(t, err)
	prep, err := f.pipeline.RunPrep(ctx, windowStart, windowEnd())
	require.NoError(t, err)

	// Two evaluator runs over the same prepared file repeat every fact key.
	evaluate(t, f.objects, prep.Key, "evaluation/output/run-1.jsonl")
	evaluate(t, f.objects, prep.Key, "evaluation/output/run-2.jsonl")

	report, err := f.pipeline.RunWriteMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, report.SuccessfulRows)
	assert.Equal(t, 3, report.Facts)
	assert.Equal(t, 3, report.Merged)

	count, err := f.db.NewSelect().Model((*evalmetrics.FactEvaluationMetric)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

// evaluate plays the evaluator: it scores every prepared row with a fixed
// answer and writes the output file.
func evaluate(t *testing.T, objects storage.ObjectStore, in, out string) {
	t.Helper()
	ctx := context.Background()

	r, err := objects.Get(ctx, in)
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var line map[string][]map[string]any
		dec := json.NewDecoder(bytes.NewReader(sc.Bytes()))
		dec.UseNumber()
		require.NoError(t, dec.Decode(&line))

		var results []map[string]any
		for _, row := range line[evalmetrics.FieldEvaluationDataset] {
			scored, err := evalmetrics.BuildEvaluationOutput(row, "Score: 4")
			require.NoError(t, err)
			results = append(results, scored...)
		}
		require.NoError(t, enc.Encode(map[string]any{evalmetrics.FieldEvaluationResults: results}))
	}
	require.NoError(t, sc.Err())
	require.NoError(t, objects.Put(ctx, out, buf.Bytes()))
}
