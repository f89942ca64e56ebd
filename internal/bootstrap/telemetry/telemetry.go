package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"stashworker/internal/bootstrap/config"
	"stashworker/internal/bootstrap/logging"
	"stashworker/internal/errs"
)

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Setup registers a global OTLP/HTTP tracer provider. Tracing is opt-in:
// with no endpoint configured the returned Shutdown is a no-op and the
// global provider is left untouched.
func Setup(ctx context.Context, cfg config.TelemetryConfig, serviceName string) (Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if ctx == nil {
		return noop, errors.New("context is required")
	}

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, errs.Wrap(err, "create otlp exporter")
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, errs.Wrap(err, "build otel resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logging.Info(logging.WithComponent(ctx, "bootstrap.telemetry"), "tracing enabled",
		slog.String("endpoint", endpoint),
		slog.String("service", serviceName),
	)
	return tp.Shutdown, nil
}
