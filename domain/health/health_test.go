package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/goldzone/domain/pipeline"
	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/storage"
	"github.com/emergent-company/goldzone/pkg/apperror"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(quietLogger())
	return e
}

func TestHealth(t *testing.T) {
	objects, err := storage.NewLocal(t.TempDir(), quietLogger())
	require.NoError(t, err)
	cfg := &config.Config{Pipeline: config.PipelineConfig{DimPath: "goldzone/dims"}}

	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantDB     string
	}{
		{name: "healthy", wantStatus: http.StatusOK, wantDB: "healthy"},
		{name: "database down", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantDB: "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(pingerFunc(func(context.Context) error { return tt.pingErr }), objects, cfg)
			e := newEcho()
			e.GET("/health", h.Health)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantDB, resp.Checks["database"].Status)
			assert.Equal(t, "healthy", resp.Checks["storage"].Status)
		})
	}
}

type fakeRunner struct {
	mu         sync.Mutex
	running    bool
	start, end time.Time
}

func (f *fakeRunner) RunTransform(_ context.Context, start, end time.Time) (pipeline.TransformReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.start, f.end = start, end
	return pipeline.TransformReport{BatchID: "b1"}, nil
}

func (f *fakeRunner) Running() bool { return f.running }

func newRunsFixture(runner *fakeRunner) (*echo.Echo, *RunsHandler, chan error) {
	h := newRunsHandler(runner, 24*time.Hour, time.Minute, quietLogger())
	h.now = func() time.Time { return time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC) }
	done := make(chan error, 1)
	h.done = func(err error) { done <- err }

	e := newEcho()
	e.POST("/api/runs/transform", h.Transform)
	return e, h, done
}

func post(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/runs/transform", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRunsTransform_DefaultWindow(t *testing.T) {
	runner := &fakeRunner{}
	e, _, done := newRunsFixture(runner)

	rec := post(e, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, <-done)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC), runner.start)
	assert.Equal(t, time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC), runner.end)
}

func TestRunsTransform_ExplicitWindow(t *testing.T) {
	runner := &fakeRunner{}
	e, _, done := newRunsFixture(runner)

	rec := post(e, `{"start":"2024-02-01T00:00:00Z","end":"2024-02-02T00:00:00Z"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, <-done)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), runner.start)
}

func TestRunsTransform_BadWindow(t *testing.T) {
	e, _, _ := newRunsFixture(&fakeRunner{})

	for _, body := range []string{
		`{"start":"2024-02-01T00:00:00Z"}`,
		`{"start":"2024-02-02T00:00:00Z","end":"2024-02-01T00:00:00Z"}`,
		`{"start":`,
	} {
		rec := post(e, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRunsTransform_Conflict(t *testing.T) {
	e, _, _ := newRunsFixture(&fakeRunner{running: true})

	rec := post(e, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
