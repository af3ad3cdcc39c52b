package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WithStageSpan wraps a dialog pipeline stage (transcribe, generate,
// synthesize, classify) in a client span attributed to the call.
func WithStageSpan(ctx context.Context, callID, stage string, fn func(ctx context.Context) error) error {
	tracer := otel.Tracer("voice-caller")

	ctx, span := tracer.Start(ctx, "pipeline."+stage,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("call.id", callID),
			attribute.String("pipeline.stage", stage),
		),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("pipeline.error", true))
	}
	return err
}
