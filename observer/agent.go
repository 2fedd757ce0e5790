package observer

import (
	"context"
	"strings"
	"time"

	"github.com/nevindra/dossier/agent"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedAgent wraps a turn handler to emit a span, metrics and a log
// record per turn. The span is the parent of the stage spans and model calls
// made while handling the turn.
type ObservedAgent struct {
	inner agent.Handler
	inst  *Instruments
}

// WrapAgent returns an instrumented handler.
func WrapAgent(inner agent.Handler, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst}
}

func (o *ObservedAgent) Handle(ctx context.Context, req agent.Request) string {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		AttrTurnModel.String(req.Model),
	))
	defer span.End()
	start := time.Now()

	resp := o.inner.Handle(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := turnStatus(ctx, resp)
	switch status {
	case "fatal":
		span.SetStatus(codes.Error, resp)
	case "cancelled":
		span.SetStatus(codes.Error, "cancelled")
	}
	span.SetAttributes(AttrTurnStatus.String(status))

	attrs := metric.WithAttributes(attribute.String("status", status))
	o.inst.Turns.Add(ctx, 1, attrs)
	o.inst.TurnDuration.Record(ctx, durationMs, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	if status == "fatal" {
		rec.SetSeverity(otellog.SeverityError)
	}
	rec.SetBody(otellog.StringValue("turn handled"))
	rec.AddAttributes(
		otellog.String("turn.model", req.Model),
		otellog.String("status", status),
		otellog.Float64("duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)
	return resp
}

// turnStatus classifies a reply: "fatal" for the pipeline's fatal-error
// text, "command" for acknowledgements, "cancelled" when the caller went
// away, "ok" otherwise.
func turnStatus(ctx context.Context, resp string) string {
	switch {
	case strings.HasPrefix(resp, agent.FatalPrefix):
		return "fatal"
	case strings.HasPrefix(resp, "ACK"):
		return "command"
	case ctx.Err() != nil:
		return "cancelled"
	}
	return "ok"
}

var _ agent.Handler = (*ObservedAgent)(nil)
