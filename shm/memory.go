package shm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps regions in the current process. It is the store for
// single-process deployments and for tests: a fresh registry built over the
// same MemoryStore observes exactly the state a previous one left behind.
type MemoryStore struct {
	mu     sync.Mutex
	slots  map[string]*memorySlot
	closed bool
}

type memorySlot struct {
	mu        sync.Mutex
	rec       Record
	destroyed bool
}

type memoryRegion struct {
	id     string
	slot   *memorySlot
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*memorySlot)}
}

// Open attaches to the region for id, creating it if absent.
func (s *MemoryStore) Open(id string, sizing Sizing) (Region, error) {
	if err := ValidateIdentifier(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	slot, ok := s.slots[id]
	if !ok {
		slot = &memorySlot{rec: newRecord(sizing)}
		s.slots[id] = slot
	}
	return &memoryRegion{id: id, slot: slot}, nil
}

// Attach attaches to an existing region.
func (s *MemoryStore) Attach(id string) (Region, error) {
	if err := ValidateIdentifier(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	slot, ok := s.slots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &memoryRegion{id: id, slot: slot}, nil
}

// Destroy removes the region for id.
func (s *MemoryStore) Destroy(id string) error {
	s.mu.Lock()
	slot, ok := s.slots[id]
	delete(s.slots, id)
	s.mu.Unlock()

	if ok {
		slot.mu.Lock()
		slot.destroyed = true
		slot.mu.Unlock()
	}
	return nil
}

// List returns the identifiers with state, sorted.
func (s *MemoryStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the store closed. Existing handles keep working until closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (r *memoryRegion) Identifier() string {
	return r.id
}

func (r *memoryRegion) WithLock(fn func(rec *Record) error) error {
	if r.closed.Load() {
		return ErrClosed
	}

	r.slot.mu.Lock()
	defer r.slot.mu.Unlock()

	if r.slot.destroyed {
		return ErrDestroyed
	}

	rec := r.slot.rec
	if err := fn(&rec); err != nil {
		return err
	}
	r.slot.rec = rec
	return nil
}

func (r *memoryRegion) Close() error {
	r.closed.Store(true)
	return nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Region = (*memoryRegion)(nil)
)
