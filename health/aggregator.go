package health

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report is the outcome of running every registered check.
type Report struct {
	Status    Status            `json:"status"`
	CheckedAt time.Time         `json:"timestamp"`
	Checks    map[string]Result `json:"checks,omitempty"`
}

func newReport(checks map[string]Result, at time.Time) Report {
	r := Report{CheckedAt: at.UTC(), Checks: checks}
	for _, c := range checks {
		r.Status = Worst(r.Status, c.Status)
	}
	return r
}

// Runner runs registered checks. *Aggregator and *RegistryAggregator
// satisfy it.
type Runner interface {
	Check(ctx context.Context, name string) (Result, error)
	Run(ctx context.Context) Report
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds a whole run and every single check.
	// Default: 10s
	Timeout time.Duration

	// Concurrency bounds how many checks run at once.
	// Default: 8
	Concurrency int
}

// Aggregator runs a set of checkers keyed by name.
//
// Contract:
//   - Concurrency: safe for concurrent use, including registration during
//     a run.
//   - Errors: a panicking or overdue check is reported unhealthy with
//     ErrCheckPanicked or ErrCheckTimeout; Run never fails.
type Aggregator struct {
	timeout     time.Duration
	concurrency int

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewAggregator creates an aggregator. Only the first config is used.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	var cfg AggregatorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 8
	}
	return &Aggregator{
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		checkers:    make(map[string]Checker),
	}
}

// Register adds c under c.Name(), replacing any checker of that name.
func (a *Aggregator) Register(c Checker) {
	a.mu.Lock()
	a.checkers[c.Name()] = c
	a.mu.Unlock()
}

// Unregister removes the checker called name.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	delete(a.checkers, name)
	a.mu.Unlock()
}

// Has reports whether a checker called name is registered.
func (a *Aggregator) Has(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.checkers[name]
	return ok
}

// Names returns the registered names in order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Sorted(maps.Keys(a.checkers))
}

// Check runs the checker called name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	c, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCheck, name)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, c), nil
}

// Run runs every registered checker.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	checkers := maps.Clone(a.checkers)
	a.mu.RUnlock()

	start := time.Now()
	results := make(map[string]Result, len(checkers))

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(a.concurrency)
	for name, c := range checkers {
		g.Go(func() error {
			r := run(ctx, c)
			mu.Lock()
			results[name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return newReport(results, start)
}

// run executes one check, converting panics and deadline overruns into
// unhealthy results.
func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Unhealthy(fmt.Sprint(p), ErrCheckPanicked)
			}
		}()
		done <- c.Check(ctx)
	}()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Unhealthy("no answer before the deadline", ErrCheckTimeout)
	}
	r.Duration = time.Since(start)
	r.CheckedAt = start
	return r
}
