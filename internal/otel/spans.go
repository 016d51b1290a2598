package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for gotodo spans and metrics.
var (
	AttrRoute     = attribute.Key("gotodo.http.route")
	AttrStatus    = attribute.Key("gotodo.http.status")
	AttrTaskID    = attribute.Key("gotodo.task.id")
	AttrWeekday   = attribute.Key("gotodo.task.weekday")
	AttrQueryMode = attribute.Key("gotodo.query.mode")
	AttrBatchID   = attribute.Key("gotodo.import.batch_id")
	AttrOperation = attribute.Key("gotodo.operation")
	AttrOutcome   = attribute.Key("gotodo.outcome")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound HTTP request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
