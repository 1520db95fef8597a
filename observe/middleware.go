package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/semian/resilience"
)

// Middleware instruments guarded calls with tracing, metrics and logging.
// It plugs into a resilience.Guard through Hooks and into a
// resilience.Registry through OnStateChange.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: spans started in OnStart travel in the returned context.
//   - Errors: instrumentation never alters the guarded call's result.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = &noopMetrics{}
	}
	if logger == nil {
		logger = &noopLogger{}
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
// This is a convenience function for common use cases.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(newTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Hooks returns guard hooks bound to the middleware.
func (m *Middleware) Hooks() resilience.Hooks {
	return resilience.Hooks{
		OnStart:    m.onStart,
		OnReject:   m.onReject,
		OnComplete: m.onComplete,
	}
}

func (m *Middleware) onStart(ctx context.Context, id string) context.Context {
	ctx, _ = m.tracer.StartSpan(ctx, id)
	return ctx
}

func (m *Middleware) onReject(ctx context.Context, id string, err error) {
	m.tracer.RejectSpan(trace.SpanFromContext(ctx), err)
	m.metrics.RecordRejection(ctx, id, err)
	m.logger.WithResource(id).Warn(ctx, "call rejected",
		Field{Key: "reason", Value: rejectionReason(err)},
		Field{Key: "error", Value: err},
	)
}

func (m *Middleware) onComplete(ctx context.Context, id string, outcome resilience.Outcome, elapsed time.Duration, err error) {
	m.tracer.EndSpan(trace.SpanFromContext(ctx), outcome, err)
	m.metrics.RecordRun(ctx, id, outcome, elapsed)

	fields := []Field{
		{Key: "outcome", Value: outcome.String()},
		{Key: "duration_ms", Value: float64(elapsed.Microseconds()) / 1000},
	}
	logger := m.logger.WithResource(id)
	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err})
		logger.Info(ctx, "call failed", fields...)
		return
	}
	logger.Debug(ctx, "call completed", fields...)
}

// OnStateChange logs and counts a circuit transition. Pass it as
// resilience.RegistryConfig.OnStateChange.
func (m *Middleware) OnStateChange(id string, from, to resilience.State) {
	ctx := context.Background()
	m.metrics.RecordStateChange(ctx, id, from, to)

	fields := []Field{
		{Key: "from", Value: from.String()},
		{Key: "to", Value: to.String()},
	}
	logger := m.logger.WithResource(id)
	if to == resilience.StateOpen {
		logger.Warn(ctx, "circuit opened", fields...)
		return
	}
	logger.Info(ctx, "circuit state changed", fields...)
}
