package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/domain/pipeline"
	"github.com/emergent-company/goldzone/internal/config"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		func(cfg *config.Config, log *slog.Logger) *Scheduler {
			return NewScheduler(log, cfg.Scheduler.RunTimeout)
		},
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Pipeline  *pipeline.Pipeline
	Log       *slog.Logger
	Cfg       *config.Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Scheduler.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	task := NewTransformTask(p.Pipeline, p.Cfg.Scheduler.TransformLookback, p.Log)
	if err := p.Scheduler.AddCronTask(TransformTaskName, p.Cfg.Scheduler.TransformSchedule, task.Run); err != nil {
		return err
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
