package health

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the health, metrics and run routes
func RegisterRoutes(e *echo.Echo, h *Handler, r *RunsHandler) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/api/runs/transform", r.Transform)
}
