package observer

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/dossier"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// stageSpanPrefix starts the names of the agent's per-stage spans.
const stageSpanPrefix = "agent.stage."

// otelTracer implements dossier.Tracer using OpenTelemetry.
type otelTracer struct {
	inner trace.Tracer
}

// NewTracer returns a dossier.Tracer backed by the global OTEL TracerProvider.
// Call Init first; otherwise spans go to a no-op backend.
func NewTracer() dossier.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

// Start opens a span. Pipeline stage spans are tagged with the stage name,
// and any call purpose on ctx is copied onto the span.
func (t *otelTracer) Start(ctx context.Context, name string, attrs ...dossier.SpanAttr) (context.Context, dossier.Span) {
	kvs := toOTELAttrs(attrs)
	if stage, ok := strings.CutPrefix(name, stageSpanPrefix); ok {
		kvs = append(kvs, AttrStage.String(stage))
	}
	if p := dossier.PurposeFrom(ctx); p != "" {
		kvs = append(kvs, AttrPurpose.String(p))
	}
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(kvs...))
	return ctx, &otelSpan{inner: span}
}

// otelSpan implements dossier.Span using an OTEL trace.Span.
type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...dossier.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...dossier.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() { s.inner.End() }

func toOTELAttrs(attrs []dossier.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

// toOTELAttr converts a dossier.SpanAttr to an OTEL attribute.KeyValue.
func toOTELAttr(a dossier.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	case []string:
		return attribute.StringSlice(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}

var (
	_ dossier.Tracer = (*otelTracer)(nil)
	_ dossier.Span   = (*otelSpan)(nil)
)
