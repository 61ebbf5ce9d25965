// Package observability wires OpenTelemetry trace export.
//
// Spans are created throughout the codebase against the global tracer
// provider (plugin execution, RAG answering). Setup installs a provider
// that batches those spans to an OTLP/HTTP collector when telemetry is
// enabled; when it is disabled the spans stay no-ops and Setup returns
// a no-op shutdown.
//
// The collector endpoint is expected to be a local agent or gateway
// (default localhost:4318). An unreachable collector never fails the
// application; the exporter retries in the background and drops spans
// on shutdown at worst.
package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// DefaultEndpoint is the default OTLP/HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// DefaultServiceName is the service name on exported spans when none is
// configured.
const DefaultServiceName = "osprey"

// Config for trace export setup.
type Config struct {
	// Enabled turns trace export on; when false Setup is a no-op.
	Enabled bool
	// Endpoint is the OTLP/HTTP collector endpoint (default: localhost:4318).
	Endpoint string
	// ServiceName is the service name on exported spans (default: osprey).
	ServiceName string
	// ServiceVersion is the version tag on exported spans.
	ServiceVersion string
	// Environment is the deployment environment tag (default: dev).
	Environment string
}

// Setup installs the global tracer provider with a batching OTLP/HTTP
// exporter and returns a shutdown function that flushes pending spans.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "dev"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.DeploymentEnvironmentName(environment),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", serviceName,
		"environment", environment)

	return provider.Shutdown, nil
}
