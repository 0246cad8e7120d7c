package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/emergent-company/goldzone/domain/pipeline"
	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// TransformTaskName names the scheduled transform run.
const TransformTaskName = "goldzone_transform"

// TransformRunner runs one transform over a window.
type TransformRunner interface {
	RunTransform(ctx context.Context, start, end time.Time) (pipeline.TransformReport, error)
}

// TransformTask moves the trailing lookback window into the gold zone.
type TransformTask struct {
	runner   TransformRunner
	lookback time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewTransformTask creates a transform task over the trailing lookback.
func NewTransformTask(runner TransformRunner, lookback time.Duration, log *slog.Logger) *TransformTask {
	return &TransformTask{
		runner:   runner,
		lookback: lookback,
		now:      time.Now,
		log:      log.With(logger.Scope("scheduler.transform")),
	}
}

// Window returns the window a run started now covers.
func (t *TransformTask) Window() (start, end time.Time) {
	end = t.now().UTC()
	return end.Add(-t.lookback), end
}

// Run executes one transform. A run skipped because another is still in
// progress is not a failure.
func (t *TransformTask) Run(ctx context.Context) error {
	start, end := t.Window()
	report, err := t.runner.RunTransform(ctx, start, end)
	if errors.Is(err, apperror.ErrConflict) {
		t.log.Warn("previous transform still running, skipping",
			slog.Time("start", start),
			slog.Time("end", end))
		return nil
	}
	if err != nil {
		return err
	}
	t.log.Debug("transform window done",
		slog.String("batch_id", report.BatchID),
		slog.Int("new_facts", report.NewFacts))
	return nil
}
