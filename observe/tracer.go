package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/semian/resilience"
)

// SpanName is the name of the span wrapping each guarded call.
const SpanName = "semian.run"

// Span attribute keys.
const (
	AttrResource = attribute.Key("semian.resource")
	AttrOutcome  = attribute.Key("semian.outcome")
	AttrRejected = attribute.Key("semian.rejected")
	AttrReason   = attribute.Key("semian.reason")
)

// Tracer wraps OpenTelemetry tracing with guarded-call span management.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: EndSpan and RejectSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for a guarded call on id.
	StartSpan(ctx context.Context, id string) (context.Context, trace.Span)

	// EndSpan ends the span of a call that ran.
	EndSpan(span trace.Span, outcome resilience.Outcome, err error)

	// RejectSpan ends the span of a call refused before it ran.
	RejectSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, id string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanName,
		trace.WithAttributes(
			AttrResource.String(id),
			AttrRejected.Bool(false),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, outcome resilience.Outcome, err error) {
	defer span.End()
	span.SetAttributes(AttrOutcome.String(outcome.String()))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (t *tracerImpl) RejectSpan(span trace.Span, err error) {
	span.SetAttributes(
		AttrRejected.Bool(true),
		AttrReason.String(rejectionReason(err)),
	)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// newNoopTracer wraps the OpenTelemetry no-op tracer; its spans have
// invalid contexts and record nothing.
func newNoopTracer() Tracer {
	return newTracer(tracenoop.NewTracerProvider().Tracer(""))
}
