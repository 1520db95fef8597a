package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/semian/resilience"
	"github.com/jonwraymond/semian/shm"
)

// ResourcePrefix prefixes the checker name of every resource.
const ResourcePrefix = "resource:"

// StatusSource reads the shared state of identifiers.
// *resilience.Registry satisfies it.
type StatusSource interface {
	Known() ([]string, error)
	Status(id string) (resilience.Status, error)
}

// ResourceChecker reports the circuit of one identifier.
type ResourceChecker struct {
	id  string
	src StatusSource
}

// NewResourceChecker creates a checker for id.
func NewResourceChecker(src StatusSource, id string) *ResourceChecker {
	return &ResourceChecker{id: id, src: src}
}

// Name returns "resource:<id>".
func (c *ResourceChecker) Name() string {
	return ResourcePrefix + c.id
}

// Check reads the shared state and maps the circuit state to a status.
func (c *ResourceChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	st, err := c.src.Status(c.id)
	if errors.Is(err, resilience.ErrUnknownResource) {
		return Healthy("no shared state")
	}
	if err != nil {
		return Unhealthy("shared state unreadable", err)
	}

	details := map[string]any{
		"state":                 st.State.String(),
		"tickets":               st.Tickets,
		"available":             st.Available,
		"in_use":                st.InUse,
		"consecutive_failures":  st.ConsecutiveFailures,
		"consecutive_successes": st.ConsecutiveSuccesses,
	}
	if !st.StateEnteredAt.IsZero() {
		details["state_entered_at"] = st.StateEnteredAt.UTC().Format(time.RFC3339)
	}

	msg := fmt.Sprintf("circuit %s", st.State)
	switch FromCircuit(st.State) {
	case StatusHealthy:
		return Healthy(msg).WithDetails(details)
	case StatusDegraded:
		return Degraded(msg).WithDetails(details)
	default:
		return Unhealthy(msg, resilience.ErrCircuitOpen).WithDetails(details)
	}
}

// StoreChecker reports whether the shared-state store can be listed.
type StoreChecker struct {
	store shm.Store
}

// NewStoreChecker creates a checker for store.
func NewStoreChecker(store shm.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

// Name returns "store".
func (c *StoreChecker) Name() string {
	return "store"
}

// Check lists the store.
func (c *StoreChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}
	ids, err := c.store.List()
	if err != nil {
		return Unhealthy("store unavailable", err)
	}

	details := map[string]any{"identifiers": len(ids)}
	if fs, ok := c.store.(*shm.FileStore); ok {
		details["dir"] = fs.Dir()
	}
	return Healthy("store reachable").WithDetails(details)
}

// RegistryAggregator is an Aggregator that also checks every identifier
// known to a registry. Resource checkers are synced before each run so
// identifiers created by other processes show up.
type RegistryAggregator struct {
	*Aggregator
	src StatusSource
}

// NewRegistryAggregator creates an aggregator over src.
func NewRegistryAggregator(src StatusSource, config ...AggregatorConfig) *RegistryAggregator {
	return &RegistryAggregator{
		Aggregator: NewAggregator(config...),
		src:        src,
	}
}

// Sync registers a checker for every known identifier and drops checkers
// for identifiers that no longer exist.
func (a *RegistryAggregator) Sync() error {
	ids, err := a.src.Known()
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		c := NewResourceChecker(a.src, id)
		want[c.Name()] = true
		if !a.Has(c.Name()) {
			a.Register(c)
		}
	}
	for _, name := range a.Names() {
		if strings.HasPrefix(name, ResourcePrefix) && !want[name] {
			a.Unregister(name)
		}
	}
	return nil
}

// Check syncs, then runs the named check.
func (a *RegistryAggregator) Check(ctx context.Context, name string) (Result, error) {
	_ = a.Sync()
	return a.Aggregator.Check(ctx, name)
}

// Run syncs, then runs every check. A failed sync is reported as an
// unhealthy "registry" check.
func (a *RegistryAggregator) Run(ctx context.Context) Report {
	syncErr := a.Sync()
	report := a.Aggregator.Run(ctx)
	if syncErr != nil {
		report.Checks["registry"] = Unhealthy("identifiers unavailable", syncErr)
		report.Status = StatusUnhealthy
	}
	return report
}
