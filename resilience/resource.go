package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/semian/shm"
)

// errRetired is returned when a resource was evicted before a lease could
// be taken on it.
var errRetired = errors.New("resilience: resource retired")

// Resource binds an identifier to its shared region, the options it was
// created with, and the bulkhead and breaker built over the region.
//
// The region stays open while leases are outstanding. Every ticket from the
// bulkhead holds one, so eviction never strands a ticket on a closed handle.
type Resource struct {
	id       string
	options  Options
	region   shm.Region
	bulkhead *TicketBulkhead
	breaker  *CircuitBreaker

	mu      sync.Mutex
	leases  int
	retired bool
}

func newResource(region shm.Region, opts Options, onStateChange func(string, State, State)) *Resource {
	r := &Resource{
		id:       region.Identifier(),
		options:  opts,
		region:   region,
		bulkhead: NewTicketBulkhead(region),
		breaker:  NewCircuitBreaker(region, opts.breakerConfig(onStateChange)),
	}
	r.bulkhead.owner = r
	return r
}

// Identifier returns the resource identifier.
func (r *Resource) Identifier() string { return r.id }

// Options returns the options the resource was created with.
func (r *Resource) Options() Options { return r.options }

// Bulkhead returns the resource's ticket bulkhead.
func (r *Resource) Bulkhead() *TicketBulkhead { return r.bulkhead }

// Breaker returns the resource's circuit breaker.
func (r *Resource) Breaker() *CircuitBreaker { return r.breaker }

// Status reads the resource's shared state.
func (r *Resource) Status() (Status, error) {
	if !r.hold() {
		return Status{}, errRetired
	}
	defer r.unhold()
	return readStatus(r.region)
}

func (r *Resource) hold() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired {
		return false
	}
	r.leases++
	return true
}

func (r *Resource) unhold() {
	r.mu.Lock()
	r.leases--
	closing := r.retired && r.leases == 0
	r.mu.Unlock()
	if closing {
		_ = r.region.Close()
	}
}

// retire stops new leases. The region closes now when none are
// outstanding, otherwise when the last one is released.
func (r *Resource) retire() error {
	r.mu.Lock()
	if r.retired {
		r.mu.Unlock()
		return nil
	}
	r.retired = true
	closing := r.leases == 0
	r.mu.Unlock()
	if closing {
		return r.region.Close()
	}
	return nil
}

// Status is a point-in-time view of an identifier's shared state.
type Status struct {
	Identifier           string    `json:"identifier"`
	State                State     `json:"state"`
	Tickets              uint32    `json:"tickets"`
	Available            uint32    `json:"available"`
	InUse                uint32    `json:"in_use"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	StateEnteredAt       time.Time `json:"state_entered_at,omitzero"`
}

func readStatus(region shm.Region) (Status, error) {
	rec, err := shm.Snapshot(region)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Identifier:           region.Identifier(),
		State:                stateOf(&rec),
		Tickets:              rec.Tickets,
		Available:            rec.Available,
		InUse:                rec.Tickets - rec.Available,
		ConsecutiveFailures:  rec.ConsecutiveFailures,
		ConsecutiveSuccesses: rec.ConsecutiveSuccesses,
	}
	if rec.StateEnteredAt != 0 {
		st.StateEnteredAt = time.Unix(0, rec.StateEnteredAt)
	}
	return st, nil
}
