package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/semian/resilience"
)

// Rejection reasons reported on metrics and spans.
const (
	ReasonBusy        = "busy"
	ReasonCircuitOpen = "circuit_open"
	ReasonUnavailable = "unavailable"
	ReasonOther       = "other"
)

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, resilience.ErrResourceBusy):
		return ReasonBusy
	case errors.Is(err, resilience.ErrCircuitOpen):
		return ReasonCircuitOpen
	case errors.Is(err, resilience.ErrStateUnavailable):
		return ReasonUnavailable
	default:
		return ReasonOther
	}
}

// Metrics records guarded-call metrics.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: must honor cancellation/deadlines and return quickly.
//   - Errors: implementations must not panic.
type Metrics interface {
	// RecordRun records a call that ran, with its outcome and duration.
	RecordRun(ctx context.Context, id string, outcome resilience.Outcome, duration time.Duration)

	// RecordRejection records a call refused before it ran.
	RecordRejection(ctx context.Context, id string, err error)

	// RecordStateChange records a circuit transition.
	RecordStateChange(ctx context.Context, id string, from, to resilience.State)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	totalCount   metric.Int64Counter
	rejectCount  metric.Int64Counter
	changeCount  metric.Int64Counter
	durationHist metric.Float64Histogram
}

// newMetrics creates a new Metrics instance with the given meter.
func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"semian.run.total",
		metric.WithDescription("Total number of guarded calls that ran"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	rejectCount, err := meter.Int64Counter(
		"semian.rejections",
		metric.WithDescription("Total number of guarded calls refused before running"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	changeCount, err := meter.Int64Counter(
		"semian.state_changes",
		metric.WithDescription("Total number of circuit state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"semian.run.duration_ms",
		metric.WithDescription("Guarded call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		totalCount:   totalCount,
		rejectCount:  rejectCount,
		changeCount:  changeCount,
		durationHist: durationHist,
	}, nil
}

func (m *metricsImpl) RecordRun(ctx context.Context, id string, outcome resilience.Outcome, duration time.Duration) {
	opt := metric.WithAttributes(
		AttrResource.String(id),
		AttrOutcome.String(outcome.String()),
	)
	m.totalCount.Add(ctx, 1, opt)
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordRejection(ctx context.Context, id string, err error) {
	m.rejectCount.Add(ctx, 1, metric.WithAttributes(
		AttrResource.String(id),
		AttrReason.String(rejectionReason(err)),
	))
}

func (m *metricsImpl) RecordStateChange(ctx context.Context, id string, from, to resilience.State) {
	m.changeCount.Add(ctx, 1, metric.WithAttributes(
		AttrResource.String(id),
		attribute.String("semian.from", from.String()),
		attribute.String("semian.to", to.String()),
	))
}

// StatusSource lists every identifier with shared state and reads it.
// *resilience.Registry satisfies it.
type StatusSource interface {
	Known() ([]string, error)
	Status(id string) (resilience.Status, error)
}

// RegisterGauges registers observable gauges that report the shared state
// of every identifier src knows at collection time, including those opened
// by other processes. The returned registration must be unregistered when
// src is closed.
func RegisterGauges(meter metric.Meter, src StatusSource) (metric.Registration, error) {
	if src == nil {
		return nil, ErrNilRegistry
	}

	available, err := meter.Int64ObservableGauge(
		"semian.tickets.available",
		metric.WithDescription("Bulkhead tickets not currently held, host-wide"),
		metric.WithUnit("{ticket}"),
	)
	if err != nil {
		return nil, err
	}

	inUse, err := meter.Int64ObservableGauge(
		"semian.tickets.in_use",
		metric.WithDescription("Bulkhead tickets currently held, host-wide"),
		metric.WithUnit("{ticket}"),
	)
	if err != nil {
		return nil, err
	}

	state, err := meter.Int64ObservableGauge(
		"semian.circuit.state",
		metric.WithDescription("Circuit state: 0 closed, 1 open, 2 half-open"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		ids, err := src.Known()
		if err != nil {
			return err
		}
		for _, id := range ids {
			st, err := src.Status(id)
			if err != nil {
				continue
			}
			opt := metric.WithAttributes(AttrResource.String(id))
			o.ObserveInt64(available, int64(st.Available), opt)
			o.ObserveInt64(inUse, int64(st.InUse), opt)
			o.ObserveInt64(state, int64(st.State), opt)
		}
		return nil
	}, available, inUse, state)
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (m *noopMetrics) RecordRun(context.Context, string, resilience.Outcome, time.Duration) {}

func (m *noopMetrics) RecordRejection(context.Context, string, error) {}

func (m *noopMetrics) RecordStateChange(context.Context, string, resilience.State, resilience.State) {
}
