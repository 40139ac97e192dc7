package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "edi-broker"

// StartAskSpan starts a span for one blocking bridge call.
func StartAskSpan(ctx context.Context, threadID string, newThread bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "bridge.ask",
		trace.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.Bool("thread.new", newThread),
		),
	)
}

// StartDispatchSpan starts a span covering a dispatch task from spawn to
// terminal state.
func StartDispatchSpan(ctx context.Context, taskID, threadID, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch.run",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("thread.id", threadID),
			attribute.String("agent.kind", agent),
		),
	)
}
