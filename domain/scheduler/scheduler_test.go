package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/goldzone/domain/pipeline"
	"github.com/emergent-company/goldzone/pkg/apperror"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noop(context.Context) error { return nil }

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(quietLogger(), time.Minute)
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
}

func TestScheduler_AddCronTask_ReplaceExisting(t *testing.T) {
	s := NewScheduler(quietLogger(), time.Minute)

	require.NoError(t, s.AddCronTask("transform", "0 0 2 * * *", noop))
	require.NoError(t, s.AddCronTask("transform", "0 30 3 * * *", noop))

	assert.Equal(t, []string{"transform"}, s.ListTasks())
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_AddCronTask_InvalidSchedule(t *testing.T) {
	s := NewScheduler(quietLogger(), time.Minute)

	err := s.AddCronTask("transform", "every night", noop)
	require.Error(t, err)
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_RemoveTask(t *testing.T) {
	s := NewScheduler(quietLogger(), time.Minute)
	require.NoError(t, s.AddCronTask("transform", "0 0 2 * * *", noop))

	s.RemoveTask("transform")
	s.RemoveTask("missing")
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_GetTaskInfo(t *testing.T) {
	s := NewScheduler(quietLogger(), time.Minute)
	assert.Empty(t, s.GetTaskInfo())

	require.NoError(t, s.AddCronTask("transform", "0 0 2 * * *", noop))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	info := s.GetTaskInfo()
	require.Len(t, info, 1)
	assert.Equal(t, "transform", info[0].Name)
	assert.Equal(t, 2, info[0].NextRun.Hour())
}

func TestScheduler_RunTaskAppliesTimeout(t *testing.T) {
	s := NewScheduler(quietLogger(), 10*time.Millisecond)

	var deadlineSet bool
	s.runTask("transform", func(ctx context.Context) error {
		_, deadlineSet = ctx.Deadline()
		return errors.New("boom")
	})
	assert.True(t, deadlineSet)
}

type stubRunner struct {
	start, end time.Time
	err        error
}

func (r *stubRunner) RunTransform(_ context.Context, start, end time.Time) (pipeline.TransformReport, error) {
	r.start, r.end = start, end
	return pipeline.TransformReport{BatchID: "b1"}, r.err
}

func TestTransformTask_UsesTrailingWindow(t *testing.T) {
	runner := &stubRunner{}
	task := NewTransformTask(runner, 24*time.Hour, quietLogger())
	now := time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC)
	task.now = func() time.Time { return now }

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, now.Add(-24*time.Hour), runner.start)
	assert.Equal(t, now, runner.end)
}

func TestTransformTask_ConflictIsNotAFailure(t *testing.T) {
	task := NewTransformTask(&stubRunner{err: apperror.ErrConflict}, time.Hour, quietLogger())
	assert.NoError(t, task.Run(context.Background()))
}

func TestTransformTask_PropagatesErrors(t *testing.T) {
	task := NewTransformTask(&stubRunner{err: apperror.ErrUnknownApplication}, time.Hour, quietLogger())
	err := task.Run(context.Background())
	assert.True(t, errors.Is(err, apperror.ErrUnknownApplication))
}
