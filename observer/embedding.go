package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/nevindra/dossier"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedEmbedding wraps a dossier.EmbeddingProvider with OTEL
// instrumentation. Calls are labelled with their purpose: facts being
// remembered, recall queries, enrollment turns, identification probes and
// proxied client requests.
type ObservedEmbedding struct {
	inner dossier.EmbeddingProvider
	inst  *Instruments
	model string
}

// WrapEmbedding returns an instrumented embedding provider.
func WrapEmbedding(inner dossier.EmbeddingProvider, model string, inst *Instruments) *ObservedEmbedding {
	return &ObservedEmbedding{inner: inner, inst: inst, model: model}
}

func (o *ObservedEmbedding) Name() string    { return o.inner.Name() }
func (o *ObservedEmbedding) Dimensions() int { return o.inner.Dimensions() }

func (o *ObservedEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	purpose := purposeOf(ctx)
	ctx, span := o.inst.Tracer.Start(ctx, "llm.embed."+purpose, trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrPurpose.String(purpose),
		AttrEmbedTextCount.Int(len(texts)),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Embed(ctx, texts)

	durationMs := float64(time.Since(start).Milliseconds())
	status := embedStatus(texts, result, err)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case status == "short":
		span.SetStatus(codes.Error, fmt.Sprintf("%d vectors for %d texts", len(result), len(texts)))
	default:
		// The backend decides the vector size; record what it returned.
		if len(result) > 0 {
			span.SetAttributes(AttrEmbedDimensions.Int(len(result[0])))
		}
	}

	attrs := metric.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrPurpose.String(purpose),
		attribute.String("status", status),
	)
	o.inst.EmbedRequests.Add(ctx, 1, attrs)
	o.inst.EmbedDuration.Record(ctx, durationMs, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	if status != "ok" {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	rec.SetBody(otellog.StringValue("embedding completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("dossier.purpose", purpose),
		otellog.Int("llm.embed.text_count", len(texts)),
		otellog.Int("llm.embed.vectors", len(result)),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

// embedStatus is "error" on failure, "short" when the backend returned fewer
// vectors than texts, "ok" otherwise.
func embedStatus(texts []string, result [][]float32, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(result) != len(texts):
		return "short"
	}
	return "ok"
}

var _ dossier.EmbeddingProvider = (*ObservedEmbedding)(nil)
