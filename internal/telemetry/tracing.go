package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer builds a process-local tracer provider for component, following
// internal/runtime/telemetry.go's resource-tagging convention upstream. The
// exporter/collector wiring (OTLP endpoint, dashboards) is deployment
// plumbing and out of scope for this module; spans are recorded in-process
// so orchestrator/tool-loop code can be instrumented uniformly regardless
// of whether anything consumes the trace.
func NewTracer(component string) trace.Tracer {
	res := resource.NewSchemaless(
		semconv.ServiceNameKey.String(component),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Tracer(component)
}
