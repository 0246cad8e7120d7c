package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goldzone_log_records_fetched_total",
		Help: "Raw log records fetched per category",
	}, []string{"category"})

	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goldzone_log_records_skipped_total",
		Help: "Raw log records skipped because their payload could not be decoded",
	}, []string{"category"})

	FactsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goldzone_facts_written_total",
		Help: "New evaluation-dataset facts written",
	})

	DuplicateFactsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goldzone_duplicate_facts_dropped_total",
		Help: "Facts dropped because their composite key was already stored",
	})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goldzone_runs_total",
		Help: "Pipeline job runs by job and outcome",
	}, []string{"job", "status"})
)

func recordRun(job string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	Runs.WithLabelValues(job, status).Inc()
}
