package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tenantforge"

// StartSagaSpan starts the root span of a provisioning or rotation run.
func StartSagaSpan(ctx context.Context, name, correlationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.String("saga.correlation_id", correlationID)),
	)
}

// StartStepSpan starts a span for one saga step (identity, register, verify,
// compensate.*).
func StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step."+step,
		trace.WithAttributes(attribute.String("saga.step", step)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
