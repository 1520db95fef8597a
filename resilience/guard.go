package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/semian/shm"
)

// Hooks observe guarded calls. Any field may be nil.
type Hooks struct {
	// OnStart is called once options resolve to enabled, before the ticket
	// is taken. The returned context is passed to the operation.
	OnStart func(ctx context.Context, id string) context.Context

	// OnReject is called when the call is refused before the operation runs.
	OnReject func(ctx context.Context, id string, err error)

	// OnComplete is called after the operation returns or panics.
	OnComplete func(ctx context.Context, id string, outcome Outcome, elapsed time.Duration, err error)
}

// ErrPanicked is reported to OnComplete when the operation panicked.
var ErrPanicked = errors.New("resilience: operation panicked")

// Guard runs operations under the bulkhead and circuit breaker of their
// identifier.
type Guard struct {
	registry *Registry
	resolver Resolver
	now      func() time.Time
	hooks    Hooks
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// NewGuard creates a guard. A nil resolver disables protection unless the
// call context carries one from WithResolver.
func NewGuard(registry *Registry, resolver Resolver, opts ...GuardOption) *Guard {
	if resolver == nil {
		resolver = Disabled()
	}
	g := &Guard{
		registry: registry,
		resolver: resolver,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithClock replaces the time source used for breaker decisions.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithHooks installs instrumentation hooks.
func WithHooks(h Hooks) GuardOption {
	return func(g *Guard) {
		g.hooks = h
	}
}

// Registry returns the guard's registry.
func (g *Guard) Registry() *Registry {
	return g.registry
}

// Options resolves the options that apply to id under ctx. Nil means
// protection is disabled.
func (g *Guard) Options(ctx context.Context, id string) *Options {
	if r, ok := ResolverFromContext(ctx); ok {
		return r.Resolve(id)
	}
	return g.resolver.Resolve(id)
}

// Execute runs op under protection for id. Errors from op are returned
// unchanged and classified with the resolved TrackedErrors.
func (g *Guard) Execute(ctx context.Context, id string, op func(context.Context) error) error {
	_, err := Run(ctx, g, id, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, nil)
	return err
}

// Run runs op under protection for id and returns its result.
//
// When no options resolve for id, op runs directly. Otherwise a ticket is
// taken and the breaker consulted; a refusal returns a *RejectionError and
// op never runs. Errors from op are returned unchanged. classify decides
// whether they count as failures; nil uses the resolved TrackedErrors.
func Run[T any](ctx context.Context, g *Guard, id string, op func(context.Context) (T, error), classify Classifier) (T, error) {
	ctx, call, err := g.Begin(ctx, id, classify)
	if err != nil {
		var zero T
		return zero, err
	}
	if call == nil {
		return op(ctx)
	}

	panicked := true
	defer func() {
		if panicked {
			call.finish(OutcomeFailure, ErrPanicked)
		}
	}()

	val, err := op(ctx)
	panicked = false
	call.Finish(err)
	return val, err
}

// Begin admits a call for id whose work completes later, such as a
// response body read after the round trip returns. The returned context
// must be used for that work, and Finish must be called exactly once.
//
// A nil Call with a nil error means protection is disabled for id.
func (g *Guard) Begin(ctx context.Context, id string, classify Classifier) (context.Context, *Call, error) {
	opts := g.Options(ctx, id)
	if opts == nil {
		return ctx, nil, nil
	}
	if classify == nil {
		classify = opts.TrackedErrors.Classify
	}

	if g.hooks.OnStart != nil {
		ctx = g.hooks.OnStart(ctx, id)
	}

	res, ticket, err := g.admit(id, *opts)
	if err != nil {
		if g.hooks.OnReject != nil {
			g.hooks.OnReject(ctx, id, err)
		}
		return ctx, nil, err
	}
	return ctx, &Call{
		ctx:      ctx,
		guard:    g,
		res:      res,
		ticket:   ticket,
		classify: classify,
		start:    time.Now(),
	}, nil
}

// Call is an admitted call holding one ticket.
type Call struct {
	ctx      context.Context
	guard    *Guard
	res      *Resource
	ticket   *Ticket
	classify Classifier
	start    time.Time
	done     atomic.Bool
}

// Finish classifies err, records the outcome and releases the ticket.
// Calls after the first are ignored.
func (c *Call) Finish(err error) Outcome {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = c.classify(err)
	}
	c.finish(outcome, err)
	return outcome
}

func (c *Call) finish(outcome Outcome, err error) {
	if !c.done.CompareAndSwap(false, true) {
		return
	}
	g := c.guard
	// Bookkeeping failures must not mask the operation's own result.
	_ = c.res.breaker.Record(outcome, g.now())
	_ = c.ticket.Release()
	if g.hooks.OnComplete != nil {
		g.hooks.OnComplete(c.ctx, c.res.id, outcome, time.Since(c.start), err)
	}
}

// admit takes a ticket and consults the breaker. A cached resource that was
// evicted, closed or destroyed underneath the call is dropped and fetched
// again.
func (g *Guard) admit(id string, opts Options) (*Resource, *Ticket, error) {
	const attempts = 3
	for attempt := 1; ; attempt++ {
		res, err := g.registry.FetchOrCreate(id, opts)
		if err != nil {
			return nil, nil, err
		}

		ticket, err := g.admitResource(res)
		if err == nil {
			return res, ticket, nil
		}
		stale := errors.Is(err, errRetired) || errors.Is(err, shm.ErrDestroyed) || errors.Is(err, shm.ErrClosed)
		if !stale {
			return nil, nil, err
		}
		g.registry.evict(id, res)
		if attempt == attempts {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrStateUnavailable, id, err)
		}
	}
}

func (g *Guard) admitResource(res *Resource) (*Ticket, error) {
	ticket, err := res.bulkhead.TryAcquire()
	if err != nil {
		return nil, err
	}

	ok, err := res.breaker.Admit(g.now())
	if err == nil && !ok {
		err = &RejectionError{Identifier: res.id, Err: ErrCircuitOpen}
	}
	if err != nil {
		_ = ticket.Release()
		return nil, err
	}
	return ticket, nil
}

// Enabled reports whether calls for id under ctx are protected.
func (g *Guard) Enabled(ctx context.Context, id string) bool {
	return g.Options(ctx, id) != nil
}
