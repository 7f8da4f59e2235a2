package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TraceScope = "pinpoint.resolver"

// Span names and attributes used by the resolver.
const (
	SpanResolve  = "pinpoint.resolve"
	SpanInspect  = "pinpoint.inspect"
	SpanDiscover = "pinpoint.discover"
	SpanAct      = "pinpoint.act"
	SpanVerify   = "pinpoint.verify"
	SpanVisual   = "pinpoint.visual"

	AttrResultID   = "pinpoint.result_id"
	AttrTargetKind = "pinpoint.target.kind"
	AttrTarget     = "pinpoint.target"
	AttrStrategy   = "pinpoint.strategy"
	AttrCandidates = "pinpoint.candidates"
	AttrConfidence = "pinpoint.confidence"
	AttrOutcome    = "pinpoint.outcome"
)

// Tracer returns the resolver tracer from tp, falling back to the global provider.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(TraceScope)
}

// StartSpan opens a span with the given attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and the outcome, then ends the span.
func EndSpan(span trace.Span, outcome string, err error) {
	if span == nil {
		return
	}
	if outcome != "" {
		span.SetAttributes(attribute.String(AttrOutcome, outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
