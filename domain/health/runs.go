package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/goldzone/domain/pipeline"
	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// TransformRunner runs one transform over a window.
type TransformRunner interface {
	RunTransform(ctx context.Context, start, end time.Time) (pipeline.TransformReport, error)
	Running() bool
}

// RunsHandler starts manual pipeline runs.
type RunsHandler struct {
	runner   TransformRunner
	lookback time.Duration
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
	// done receives the outcome of every started run; tests wait on it.
	done func(error)
}

// NewRunsHandler creates a runs handler.
func NewRunsHandler(p *pipeline.Pipeline, cfg *config.Config, log *slog.Logger) *RunsHandler {
	return newRunsHandler(p, cfg.Scheduler.TransformLookback, cfg.Scheduler.RunTimeout, log)
}

func newRunsHandler(runner TransformRunner, lookback, timeout time.Duration, log *slog.Logger) *RunsHandler {
	return &RunsHandler{
		runner:   runner,
		lookback: lookback,
		timeout:  timeout,
		log:      log.With(logger.Scope("runs")),
		now:      time.Now,
		done:     func(error) {},
	}
}

// TransformRequest optionally overrides the run window. Both bounds must be
// given together.
type TransformRequest struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// TransformAccepted is returned when a run was started.
type TransformAccepted struct {
	Status string    `json:"status"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// Transform starts a transform run in the background and answers 202. A
// run already in progress answers 409.
func (h *RunsHandler) Transform(c echo.Context) error {
	var req TransformRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return apperror.NewBadRequest("invalid request body")
		}
	}

	end := h.now().UTC()
	start := end.Add(-h.lookback)
	switch {
	case req.Start != nil && req.End != nil:
		start, end = req.Start.UTC(), req.End.UTC()
	case req.Start != nil || req.End != nil:
		return apperror.NewBadRequest("start and end must be given together")
	}
	if !start.Before(end) {
		return apperror.NewBadRequest("start must be before end")
	}

	if h.runner.Running() {
		return apperror.ErrConflict
	}

	go h.run(start, end)

	return c.JSON(http.StatusAccepted, TransformAccepted{Status: "accepted", Start: start, End: end})
}

func (h *RunsHandler) run(start, end time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	report, err := h.runner.RunTransform(ctx, start, end)
	if err != nil {
		h.log.Error("manual transform run failed",
			slog.Time("start", start),
			slog.Time("end", end),
			logger.Error(err))
	} else {
		h.log.Info("manual transform run completed",
			slog.String("batch_id", report.BatchID),
			slog.Int("new_facts", report.NewFacts))
	}
	h.done(err)
}
