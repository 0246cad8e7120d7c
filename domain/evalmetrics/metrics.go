package evalmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationInputRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_input_rows_total",
		Help: "Prepared evaluation rows handed to the evaluator",
	})

	EvaluationSuccessfulRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_successful_rows_total",
		Help: "Evaluator output rows read back",
	})

	EvaluationFailedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_failed_rows_total",
		Help: "Prepared rows with no evaluator output",
	})

	MetricsProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_metrics_provisioned_total",
		Help: "DIM_METRIC rows created on first use",
	})

	MetricFactsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_metric_facts_written_total",
		Help: "FACT_EVALUATION_METRIC rows upserted",
	})
)
