package evalmetrics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// MetricStore is the relational store the reconciler resolves metrics in.
type MetricStore interface {
	FindMetric(ctx context.Context, name, version string) (*DimMetric, error)
	InsertMetric(ctx context.Context, m *DimMetric) error
	UpsertFacts(ctx context.Context, facts []FactEvaluationMetric) (int, error)
}

// ProcessStats summarises one Process call.
type ProcessStats struct {
	Rows        int
	Facts       int
	Failed      int
	Provisioned int
	// Merged counts rows superseded by a later row with the same
	// (evaluation_dataset_id, metric_id).
	Merged int
}

// Reconciler maps evaluator output rows to metric facts.
type Reconciler struct {
	store MetricStore
	log   *slog.Logger
	now   func() time.Time
}

// NewReconciler creates a metrics reconciler over store.
func NewReconciler(store MetricStore, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		log:   log.With(logger.Scope("evalmetrics")),
		now:   time.Now,
	}
}

// Process resolves the metric of every row and builds its fact. Resolution
// failures and unknown metric types abort. A value that does not parse as a
// number for a numerical metric fails its row, which is still stored with a
// null numeric value and its raw value. Rows sharing a fact key collapse to
// the last one.
func (r *Reconciler) Process(ctx context.Context, rows []ResultRow) ([]FactEvaluationMetric, ProcessStats, error) {
	stats := ProcessStats{Rows: len(rows)}
	cache := make(map[string]*DimMetric)
	facts := make([]FactEvaluationMetric, 0, len(rows))
	now := r.now().UTC()

	r.log.Info("processing evaluation results", slog.Int("rows", len(rows)))

	for i, row := range rows {
		key := row.MetricName + "\x1f" + row.MetricVersion
		dim, ok := cache[key]
		if !ok {
			var provisioned bool
			var err error
			dim, provisioned, err = r.resolve(ctx, row)
			if err != nil {
				return nil, stats, err
			}
			if provisioned {
				stats.Provisioned++
			}
			cache[key] = dim
		}

		fact := FactEvaluationMetric{
			MetricID:            dim.MetricID,
			EvaluationDatasetID: row.EvaluationDatasetID,
			AppID:               row.AppID,
			ConversationID:      row.ConversationID,
			MetadataID:          row.MetadataID,
			MetricRawValue:      row.MetricRawValue,
			FactCreationTime:    row.Timestamp,
			CreatedBy:           SystemUser,
			UpdatedBy:           SystemUser,
			UpdatedDate:         now,
		}
		if row.SessionID != "" {
			sid := row.SessionID
			fact.SessionID = &sid
		}
		if fact.FactCreationTime.IsZero() {
			fact.FactCreationTime = now
		}

		switch strings.ToLower(dim.MetricType) {
		case MetricTypeNumerical:
			v, err := numericValue(row.MetricValue)
			if err != nil {
				stats.Failed++
				r.log.Warn("unparseable metric value, storing raw value only",
					slog.Int("row", i),
					slog.String("metric_name", row.MetricName),
					slog.String("evaluation_dataset_id", row.EvaluationDatasetID),
					slog.String("metric_raw_value", row.MetricRawValue),
					logger.Error(err),
				)
				break
			}
			fact.MetricNumericValue = &v
		case MetricTypeCategorical:
			s := stringValue(row.MetricValue)
			fact.MetricStrValue = &s
		default:
			return nil, stats, apperror.ErrInvalidMetricType.WithDetails(map[string]any{
				"metric_name":    dim.MetricName,
				"metric_version": dim.MetricVersion,
				"metric_type":    dim.MetricType,
			})
		}
		facts = append(facts, fact)
	}

	merged := MergeFacts(facts)
	stats.Merged = len(facts) - len(merged)
	facts = merged

	stats.Facts = len(facts)
	r.log.Info("evaluation results processed",
		slog.Int("facts", stats.Facts),
		slog.Int("failed", stats.Failed),
		slog.Int("merged", stats.Merged),
		slog.Int("provisioned_metrics", stats.Provisioned),
	)
	return facts, stats, nil
}

// MergeFacts keeps one fact per (evaluation_dataset_id, metric_id), the last
// occurrence winning, at the position of the first. A single upsert statement
// may not touch the same key twice.
func MergeFacts(facts []FactEvaluationMetric) []FactEvaluationMetric {
	type factKey struct {
		dataset string
		metric  int64
	}
	index := make(map[factKey]int, len(facts))
	out := make([]FactEvaluationMetric, 0, len(facts))
	for _, f := range facts {
		k := factKey{f.EvaluationDatasetID, f.MetricID}
		if i, ok := index[k]; ok {
			out[i] = f
			continue
		}
		index[k] = len(out)
		out = append(out, f)
	}
	return out
}

// resolve finds the metric for the row, provisioning it when absent.
func (r *Reconciler) resolve(ctx context.Context, row ResultRow) (*DimMetric, bool, error) {
	dim, err := r.store.FindMetric(ctx, row.MetricName, row.MetricVersion)
	if err != nil {
		return nil, false, err
	}
	if dim != nil {
		return dim, false, nil
	}

	r.log.Info("metric not found, provisioning",
		slog.String("metric_name", row.MetricName),
		slog.String("metric_version", row.MetricVersion),
	)
	now := r.now().UTC()
	err = r.store.InsertMetric(ctx, &DimMetric{
		MetricName:    row.MetricName,
		MetricVersion: row.MetricVersion,
		MetricType:    row.MetricType,
		EvaluatorName: row.MetricName,
		EvaluatorType: DefaultEvaluatorType,
		CreatedBy:     SystemUser,
		CreatedDate:   now,
		UpdatedBy:     SystemUser,
		UpdatedDate:   now,
	})
	if err != nil {
		return nil, false, err
	}

	dim, err = r.store.FindMetric(ctx, row.MetricName, row.MetricVersion)
	if err != nil {
		return nil, false, err
	}
	if dim == nil {
		return nil, false, apperror.ErrMetricResolution.WithDetails(map[string]any{
			"metric_name":    row.MetricName,
			"metric_version": row.MetricVersion,
		})
	}
	MetricsProvisioned.Inc()
	return dim, true, nil
}

// Write upserts facts in one batch.
func (r *Reconciler) Write(ctx context.Context, facts []FactEvaluationMetric) error {
	n, err := r.store.UpsertFacts(ctx, facts)
	if err != nil {
		return err
	}
	MetricFactsWritten.Add(float64(n))
	return nil
}

// RecordCounts exports the input, successful and failed row counters and
// logs an error when the evaluator did not answer every input row.
func (r *Reconciler) RecordCounts(input, successful int) {
	failed := input - successful
	EvaluationInputRows.Add(float64(input))
	EvaluationSuccessfulRows.Add(float64(successful))
	if failed > 0 {
		EvaluationFailedRows.Add(float64(failed))
	}
	if input != successful {
		r.log.Error("evaluation input and output row counts do not match",
			slog.Int("input_rows", input),
			slog.Int("output_rows", successful),
		)
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
