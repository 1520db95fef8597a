package resilience

import (
	"sync/atomic"

	"github.com/jonwraymond/semian/shm"
)

// TicketBulkhead limits concurrent holders of an identifier across every
// process sharing its region. Acquisition never waits.
type TicketBulkhead struct {
	region shm.Region
	owner  *Resource

	acquired atomic.Int64
	rejected atomic.Int64
}

// NewTicketBulkhead creates a bulkhead over region.
func NewTicketBulkhead(region shm.Region) *TicketBulkhead {
	return &TicketBulkhead{region: region}
}

// TryAcquire takes a ticket if one is free. Otherwise it returns a
// *RejectionError wrapping ErrResourceBusy immediately.
func (b *TicketBulkhead) TryAcquire() (*Ticket, error) {
	if b.owner == nil {
		return b.tryAcquire()
	}
	if !b.owner.hold() {
		return nil, errRetired
	}
	ticket, err := b.tryAcquire()
	if err != nil {
		b.owner.unhold()
		return nil, err
	}
	ticket.done = b.owner.unhold
	return ticket, nil
}

func (b *TicketBulkhead) tryAcquire() (*Ticket, error) {
	var ok bool
	err := b.region.WithLock(func(rec *shm.Record) error {
		ok = shm.TakeTicket(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		b.rejected.Add(1)
		return nil, &RejectionError{Identifier: b.region.Identifier(), Err: ErrResourceBusy}
	}

	b.acquired.Add(1)
	return &Ticket{bulkhead: b}, nil
}

func (b *TicketBulkhead) release() error {
	return b.region.WithLock(func(rec *shm.Record) error {
		shm.ReleaseTicket(rec)
		return nil
	})
}

// Metrics returns current bulkhead metrics. Capacity, Available and InUse
// are host-wide; Acquired and Rejected count this process only.
func (b *TicketBulkhead) Metrics() (BulkheadMetrics, error) {
	var m BulkheadMetrics
	err := b.region.WithLock(func(rec *shm.Record) error {
		m.Capacity = rec.Tickets
		m.Available = rec.Available
		m.InUse = rec.Tickets - rec.Available
		return nil
	})
	m.Acquired = b.acquired.Load()
	m.Rejected = b.rejected.Load()
	return m, err
}

// BulkheadMetrics contains bulkhead statistics.
type BulkheadMetrics struct {
	Capacity  uint32
	Available uint32
	InUse     uint32
	Acquired  int64
	Rejected  int64
}

// Ticket is one unit of bulkhead capacity. It must be released exactly
// once; later calls to Release are no-ops.
type Ticket struct {
	bulkhead *TicketBulkhead
	released atomic.Bool

	// done runs after the ticket is returned.
	done func()
}

// Release returns the ticket to the pool.
func (t *Ticket) Release() error {
	if !t.released.CompareAndSwap(false, true) {
		return nil
	}
	err := t.bulkhead.release()
	if t.done != nil {
		t.done()
	}
	return err
}
