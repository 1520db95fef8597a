package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/semian/shm"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openRegion(t *testing.T, tickets uint32) shm.Region {
	t.Helper()
	r, err := shm.NewMemoryStore().Open("test", shm.Sizing{Tickets: tickets})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r
}

type transition struct {
	id       string
	from, to State
}

// transitionLog records OnStateChange calls.
type transitionLog struct {
	mu  sync.Mutex
	all []transition
}

func (l *transitionLog) record(id string, from, to State) {
	l.mu.Lock()
	l.all = append(l.all, transition{id, from, to})
	l.mu.Unlock()
}

func (l *transitionLog) list() []transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transition(nil), l.all...)
}
