package shm

import "unicode/utf8"

// Breaker states as stored in Record.State.
const (
	StateClosed   uint32 = 0
	StateOpen     uint32 = 1
	StateHalfOpen uint32 = 2
)

// Record is the per-identifier state shared by every holder of a Region.
type Record struct {
	// Tickets is the bulkhead capacity fixed by the region's creator.
	Tickets uint32

	// Available is the number of tickets not currently held.
	// Invariant: 0 <= Available <= Tickets.
	Available uint32

	// State is the circuit breaker state (StateClosed, StateOpen, StateHalfOpen).
	State uint32

	// ConsecutiveFailures counts tracked failures while closed.
	ConsecutiveFailures uint32

	// ConsecutiveSuccesses counts successes while half-open.
	ConsecutiveSuccesses uint32

	// StateEnteredAt is when State last changed, in unix nanoseconds.
	StateEnteredAt int64
}

// Sizing carries the values a region is created with. It is ignored when
// attaching to a region that already exists.
type Sizing struct {
	Tickets uint32
}

// Region is a handle to one identifier's shared Record.
//
// Contract:
//   - Concurrency: safe for concurrent use by multiple goroutines.
//   - Locking: WithLock holds the identifier's mutex only for the duration of fn.
//   - Errors: state changes made by fn are discarded when fn returns an error
//     or panics; the mutex is released on every path.
type Region interface {
	// Identifier returns the identifier this region belongs to.
	Identifier() string

	// WithLock runs fn with exclusive access to the record.
	WithLock(fn func(rec *Record) error) error

	// Close releases the handle. The shared state itself is kept.
	Close() error
}

// Store creates, attaches and destroys regions.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Open is idempotent: the first creator's Sizing wins.
//   - Errors: creation and attach failures wrap ErrStateUnavailable.
type Store interface {
	// Open attaches to the region for id, creating it from sizing if absent.
	Open(id string, sizing Sizing) (Region, error)

	// Attach attaches to an existing region. Returns ErrNotFound if absent.
	Attach(id string) (Region, error)

	// Destroy removes the region for id. Open handles observe ErrDestroyed.
	// Destroying an absent identifier is not an error.
	Destroy(id string) error

	// List returns the identifiers that currently have state.
	List() ([]string, error)

	// Close releases every handle opened through this store.
	Close() error
}

// MaxIdentifierLen is the longest identifier a region can carry.
const MaxIdentifierLen = regionSize - headerSize

// ValidateIdentifier checks that id can name a region.
func ValidateIdentifier(id string) error {
	if id == "" || len(id) > MaxIdentifierLen || !utf8.ValidString(id) {
		return ErrInvalidIdentifier
	}
	return nil
}

func newRecord(sizing Sizing) Record {
	return Record{
		Tickets:   sizing.Tickets,
		Available: sizing.Tickets,
		State:     StateClosed,
	}
}

// Reset restores a region to its freshly created state without destroying
// it: all tickets available, breaker closed, counters and timestamp zeroed.
func Reset(r Region) error {
	return r.WithLock(func(rec *Record) error {
		ResetRecord(rec)
		return nil
	})
}

// ResetRecord applies Reset to a record already held under lock.
func ResetRecord(rec *Record) {
	rec.Available = rec.Tickets
	rec.State = StateClosed
	rec.ConsecutiveFailures = 0
	rec.ConsecutiveSuccesses = 0
	rec.StateEnteredAt = 0
}

// Snapshot returns a copy of the region's record.
func Snapshot(r Region) (Record, error) {
	var out Record
	err := r.WithLock(func(rec *Record) error {
		out = *rec
		return nil
	})
	return out, err
}

// TakeTicket decrements Available if a ticket is free and reports whether
// it did.
func TakeTicket(rec *Record) bool {
	if rec.Available == 0 {
		return false
	}
	rec.Available--
	return true
}

// ReleaseTicket returns a ticket, clamping Available at Tickets so a reset
// racing with in-flight holders cannot inflate capacity.
func ReleaseTicket(rec *Record) {
	if rec.Available < rec.Tickets {
		rec.Available++
	}
}
