// Package tracing installs the process TracerProvider and the Echo tracing
// middleware.
package tracing

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/server"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// Module installs the TracerProvider for batch commands.
var Module = fx.Module("tracing",
	fx.Invoke(RegisterTracerProvider),
)

// HTTPModule adds the Echo middleware for the serve command.
var HTTPModule = fx.Module("tracing-http",
	fx.Invoke(RegisterEchoMiddleware),
)

// NewTracerProvider builds an OTLP provider, or returns nil when tracing is
// disabled. The provider is not installed globally.
func NewTracerProvider(ctx context.Context, oc config.OtelConfig, log *slog.Logger) (*sdktrace.TracerProvider, error) {
	if !oc.Enabled() {
		return nil, nil
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(oc.ExporterEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(oc.ServiceName)),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	if err != nil {
		log.Warn("OTel resource detection failed", logger.Error(err))
		res = resource.Empty()
	}

	sampler := sdktrace.TraceIDRatioBased(oc.SamplingRate)
	if oc.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	), nil
}

// RegisterTracerProvider installs the provider globally (a no-op provider
// when disabled) and flushes pending spans when the app stops, so a batch
// command exports the spans of its single run.
func RegisterTracerProvider(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) error {
	log = log.With(logger.Scope("tracing"))

	tp, err := NewTracerProvider(context.Background(), cfg.Otel, log)
	if err != nil {
		return err
	}
	if tp == nil {
		log.Info("OTel tracing disabled (OTEL_EXPORTER_OTLP_ENDPOINT not set)")
		otel.SetTracerProvider(noop.NewTracerProvider())
		return nil
	}

	log.Info("OTel tracing enabled",
		slog.String("endpoint", cfg.Otel.ExporterEndpoint),
		slog.String("service", cfg.Otel.ServiceName),
		slog.Float64("sampling_rate", cfg.Otel.SamplingRate),
	)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down OTel TracerProvider")
			return tp.Shutdown(ctx)
		},
	})
	return nil
}

// RegisterEchoMiddleware adds the otelecho middleware, skipping probes and
// scrapes.
func RegisterEchoMiddleware(e *echo.Echo, cfg *config.Config) {
	if !cfg.Otel.Enabled() {
		return
	}
	e.Use(otelecho.Middleware(
		cfg.Otel.ServiceName,
		otelecho.WithSkipper(server.IsProbe),
	))
}
