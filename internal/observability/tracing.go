// Package observability provides OpenTelemetry integration for
// distributed tracing.
//
// Genkit owns the process TracerProvider and already creates spans for
// every model and embedding call; this package attaches an OTLP HTTP
// exporter to that provider so those spans, plus the retrieval engine's
// own spans, reach a collector. Any OTLP-capable backend works
// (otel-collector, Jaeger, a vendor agent listening on 4318).
//
// Configuration (~/.sage/config.yaml):
//
//	tracing:
//	  endpoint: "localhost:4318"
//	  environment: "dev"
//	  service_name: "sage"
//
// An empty endpoint disables export entirely.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the collector OTLP HTTP endpoint, host:port.
	Endpoint string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// ServiceName is the service name attached to exported spans.
	ServiceName string
}

// Setup registers an OTLP exporter with Genkit's TracerProvider and
// returns a shutdown function that flushes pending spans.
//
// Export problems degrade gracefully: a collector that cannot be
// reached never fails the application, spans are just dropped.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		slog.Debug("tracing disabled, no endpoint configured")
		return noop, nil
	}

	// Genkit's TracerProvider reads these at span-export time.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		slog.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	slog.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
