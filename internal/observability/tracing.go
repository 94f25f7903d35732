package observability

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig names the service for in-process spans.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
}

// NewTracer builds an in-process OpenTelemetry tracer with no span
// exporter: spans are created and ended for call-graph shape (visible
// to anything reading the SDK's in-memory state, e.g. tests using
// sdktrace.WithSyncer) but nothing is shipped over OTLP/gRPC, since
// this module has no collector endpoint to send to. The returned
// shutdown func flushes and releases the provider.
func NewTracer(cfg TraceConfig) (trace.Tracer, func(context.Context) error) {
	res := resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	)

	provider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	tracer := provider.Tracer(cfg.ServiceName)
	return tracer, provider.Shutdown
}
