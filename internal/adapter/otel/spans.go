package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "imagen"

// StartDispatchSpan starts a span for the outbound worker notification.
func StartDispatchSpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
		),
	)
}

// StartCallbackSpan starts a span for processing a worker result callback.
func StartCallbackSpan(ctx context.Context, taskID string, success bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "callback",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Bool("callback.success", success),
		),
	)
}
