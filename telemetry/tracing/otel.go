package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// otelTracer adapts an OTEL tracer to the Tracer interface, grounded on the
// teacher's engine/monitoring.OpenTelemetryTracer — a basic TracerProvider
// with no external exporter wired, so spans are recorded in-process only
// unless the caller configures an exporter separately.
type otelTracer struct {
	tracer oteltrace.Tracer
}

// NewOTelTracer sets the global TracerProvider and returns a Tracer backed
// by it, named serviceName. No exporter is attached here; the provider is
// not returned, only installed as the global one (otel.GetTracerProvider).
func NewOTelTracer(serviceName string) Tracer {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return &otelTracer{tracer: otel.Tracer(serviceName)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct{ span oteltrace.Span }

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toString(v)))
	}
}

func (s *otelSpan) Context() SpanContext {
	sc := s.span.SpanContext()
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

func toString(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return ""
}
