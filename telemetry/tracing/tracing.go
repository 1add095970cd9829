// Package tracing provides per-run span correlation for bleak's controllers,
// grounded on the teacher's engine/internal/telemetry/tracing simple tracer,
// with an OTEL-backed Tracer (otel.go) for real exporters.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Span is one traced operation (a phase, a controller step, a fix pair).
type Span interface {
	End()
	SetAttribute(key string, value any)
	Context() SpanContext
}

// SpanContext carries the correlation IDs logging attaches to records.
type SpanContext struct {
	TraceID, SpanID, ParentSpanID string
	Start, End                    time.Time
}

// Tracer starts spans, optionally linking them to ctx's current span.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

type noopTracer struct{}
type noopSpan struct{}

// NewNoopTracer returns a Tracer that produces only empty spans.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopSpan) End()                           {}
func (noopSpan) SetAttribute(key string, v any) {}
func (noopSpan) Context() SpanContext           { return SpanContext{} }

type simpleTracer struct{}

// NewTracer returns a Tracer that assigns random trace/span IDs to every
// span, suitable when no OTEL exporter is configured.
func NewTracer() Tracer { return simpleTracer{} }

type simpleSpan struct {
	mu    sync.Mutex
	ctx   SpanContext
	ended bool
}

func (simpleTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	parent := spanFromContext(ctx)
	traceID := parent.ctx.TraceID
	if traceID == "" {
		traceID = newID(16)
	}
	sp := &simpleSpan{ctx: SpanContext{
		TraceID:      traceID,
		SpanID:       newID(8),
		ParentSpanID: parent.ctx.SpanID,
		Start:        time.Now(),
	}}
	return context.WithValue(ctx, spanKey{}, sp), sp
}

func (s *simpleSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ctx.End = time.Now()
		s.ended = true
	}
}

func (s *simpleSpan) SetAttribute(key string, value any) {}

func (s *simpleSpan) Context() SpanContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

type spanKey struct{}

func spanFromContext(ctx context.Context) *simpleSpan {
	if ctx == nil {
		return &simpleSpan{}
	}
	if sp, ok := ctx.Value(spanKey{}).(*simpleSpan); ok {
		return sp
	}
	return &simpleSpan{}
}

// ExtractIDs returns the trace/span IDs of ctx's current span, or empty
// strings if none.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sp := spanFromContext(ctx)
	c := sp.Context()
	if c.TraceID == "" && ctx != nil {
		if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
			return sc.TraceID().String(), sc.SpanID().String()
		}
	}
	return c.TraceID, c.SpanID
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
