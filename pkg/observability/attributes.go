package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attributes of the deletion workflow.
var (
	AttrEntityID = attribute.Key("deleteflow.entity.id")
	AttrStep     = attribute.Key("deleteflow.step")
	AttrAttempt  = attribute.Key("deleteflow.attempt")
	AttrOutcome  = attribute.Key("deleteflow.outcome")
)

// SubmitOperation describes one submission attempt.
func SubmitOperation(entityID string, step, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntityID.String(entityID),
		AttrStep.Int(step),
		AttrAttempt.Int(attempt),
	}
}

// SetSpanStatus marks the span in ctx failed when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
