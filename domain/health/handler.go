package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/storage"
)

// Handler handles health check requests
type Handler struct {
	db      Pinger
	objects storage.ObjectStore
	cfg     *config.Config
	startAt time.Time
}

// Pinger checks a database connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewHandler creates a new health handler
func NewHandler(db *bun.DB, objects storage.ObjectStore, cfg *config.Config) *Handler {
	return newHandler(db.DB, objects, cfg)
}

func newHandler(db Pinger, objects storage.ObjectStore, cfg *config.Config) *Handler {
	return &Handler{
		db:      db,
		objects: objects,
		cfg:     cfg,
		startAt: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health reports database and table storage reachability. It answers 503
// when either check fails.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Check{
		"database": check(h.db.PingContext(ctx)),
		"storage":  check(h.pingStorage(ctx)),
	}

	overall, status := "healthy", http.StatusOK
	for _, ch := range checks {
		if ch.Status != "healthy" {
			overall, status = "unhealthy", http.StatusServiceUnavailable
		}
	}

	return c.JSON(status, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Checks:    checks,
	})
}

// pingStorage checks that the object store answers.
func (h *Handler) pingStorage(ctx context.Context) error {
	_, err := h.objects.Exists(ctx, h.cfg.Pipeline.DimPath)
	return err
}

func check(err error) Check {
	if err != nil {
		return Check{Status: "unhealthy", Message: err.Error()}
	}
	return Check{Status: "healthy"}
}
