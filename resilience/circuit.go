package resilience

import (
	"fmt"
	"time"

	"github.com/jonwraymond/semian/shm"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is rejecting all calls.
	StateOpen
	// StateHalfOpen means trial calls are admitted to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its string form.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes the string form produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half-open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("resilience: unknown state %q", text)
	}
	return nil
}

func stateOf(rec *shm.Record) State {
	switch rec.State {
	case shm.StateOpen:
		return StateOpen
	case shm.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (s State) stored() uint32 {
	switch s {
	case StateOpen:
		return shm.StateOpen
	case StateHalfOpen:
		return shm.StateHalfOpen
	default:
		return shm.StateClosed
	}
}

// Outcome is how a finished call affects the breaker.
type Outcome int

const (
	// OutcomeSuccess counts towards closing a half-open circuit.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure counts towards tripping the circuit.
	OutcomeFailure
	// OutcomeIgnored leaves breaker state untouched.
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// ErrorThreshold is the number of consecutive failures that trips a
	// closed circuit.
	// Default: 3
	ErrorThreshold uint32

	// SuccessThreshold is the number of consecutive half-open successes
	// that close the circuit.
	// Default: 1
	SuccessThreshold uint32

	// ErrorTimeout is how long the circuit stays open before admitting a
	// trial call.
	// Default: 10 seconds
	ErrorTimeout time.Duration

	// OnStateChange is called after a transition, outside the lock.
	OnStateChange func(id string, from, to State)
}

// CircuitBreaker is a circuit breaker whose state lives in a shared region,
// so every goroutine and process using the identifier sees the same circuit.
type CircuitBreaker struct {
	region shm.Region
	config CircuitBreakerConfig
}

// NewCircuitBreaker creates a circuit breaker over region.
func NewCircuitBreaker(region shm.Region, config CircuitBreakerConfig) *CircuitBreaker {
	if config.ErrorThreshold == 0 {
		config.ErrorThreshold = 3
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.ErrorTimeout <= 0 {
		config.ErrorTimeout = 10 * time.Second
	}

	return &CircuitBreaker{
		region: region,
		config: config,
	}
}

// Admit reports whether a call may proceed at now. An open circuit whose
// cooldown has elapsed moves to half-open and admits the call.
func (cb *CircuitBreaker) Admit(now time.Time) (bool, error) {
	var (
		ok       bool
		from, to State
	)
	err := cb.region.WithLock(func(rec *shm.Record) error {
		from = stateOf(rec)
		ok = cb.admitLocked(rec, now)
		to = stateOf(rec)
		return nil
	})
	if err != nil {
		return false, err
	}
	cb.notify(from, to)
	return ok, nil
}

// Record applies the outcome of an admitted call.
func (cb *CircuitBreaker) Record(outcome Outcome, now time.Time) error {
	if outcome == OutcomeIgnored {
		return nil
	}

	var from, to State
	err := cb.region.WithLock(func(rec *shm.Record) error {
		from = stateOf(rec)
		cb.recordLocked(rec, outcome, now)
		to = stateOf(rec)
		return nil
	})
	if err != nil {
		return err
	}
	cb.notify(from, to)
	return nil
}

// State returns the stored circuit state. An open circuit reports open
// until a call is admitted after the cooldown.
func (cb *CircuitBreaker) State() (State, error) {
	var s State
	err := cb.region.WithLock(func(rec *shm.Record) error {
		s = stateOf(rec)
		return nil
	})
	return s, err
}

// Reset closes the circuit and clears its counters. Tickets are untouched.
func (cb *CircuitBreaker) Reset() error {
	var from State
	err := cb.region.WithLock(func(rec *shm.Record) error {
		from = stateOf(rec)
		setState(rec, StateClosed, 0)
		rec.StateEnteredAt = 0
		return nil
	})
	if err != nil {
		return err
	}
	cb.notify(from, StateClosed)
	return nil
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() (CircuitBreakerMetrics, error) {
	var m CircuitBreakerMetrics
	err := cb.region.WithLock(func(rec *shm.Record) error {
		m = CircuitBreakerMetrics{
			State:     stateOf(rec),
			Failures:  rec.ConsecutiveFailures,
			Successes: rec.ConsecutiveSuccesses,
		}
		if rec.StateEnteredAt != 0 {
			m.StateEnteredAt = time.Unix(0, rec.StateEnteredAt)
		}
		return nil
	})
	return m, err
}

func (cb *CircuitBreaker) admitLocked(rec *shm.Record, now time.Time) bool {
	switch stateOf(rec) {
	case StateOpen:
		if now.UnixNano()-rec.StateEnteredAt < int64(cb.config.ErrorTimeout) {
			return false
		}
		setState(rec, StateHalfOpen, now.UnixNano())
		return true
	default:
		// Half-open admits every trial; the bulkhead bounds how many run.
		return true
	}
}

func (cb *CircuitBreaker) recordLocked(rec *shm.Record, outcome Outcome, now time.Time) {
	switch stateOf(rec) {
	case StateClosed:
		if outcome == OutcomeFailure {
			rec.ConsecutiveFailures++
			if rec.ConsecutiveFailures >= cb.config.ErrorThreshold {
				setState(rec, StateOpen, now.UnixNano())
			}
		} else {
			rec.ConsecutiveFailures = 0
		}

	case StateHalfOpen:
		if outcome == OutcomeFailure {
			// A single failed trial reopens with a fresh cooldown.
			setState(rec, StateOpen, now.UnixNano())
			return
		}
		rec.ConsecutiveSuccesses++
		if rec.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			setState(rec, StateClosed, now.UnixNano())
		}

	case StateOpen:
		// Nothing was admitted; ignore stragglers.
	}
}

// setState moves rec to s and zeroes both counters.
func setState(rec *shm.Record, s State, at int64) {
	rec.State = s.stored()
	rec.StateEnteredAt = at
	rec.ConsecutiveFailures = 0
	rec.ConsecutiveSuccesses = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.region.Identifier(), from, to)
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State          State
	Failures       uint32
	Successes      uint32
	StateEnteredAt time.Time
}
