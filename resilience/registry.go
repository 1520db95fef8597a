package resilience

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jonwraymond/semian/shm"
	"golang.org/x/sync/singleflight"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Store holds the shared state.
	// Default: a new shm.MemoryStore
	Store shm.Store

	// OnStateChange is called after every circuit transition made through
	// this registry, including resets.
	OnStateChange func(id string, from, to State)
}

// Registry is the process-local directory of resources. Entries live until
// Reset, Destroy or Close; the shared state they point at outlives the
// process.
type Registry struct {
	store         shm.Store
	onStateChange func(string, State, State)

	mu        sync.RWMutex
	resources map[string]*Resource
	group     singleflight.Group
}

// NewRegistry creates a registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Store == nil {
		config.Store = shm.NewMemoryStore()
	}
	return &Registry{
		store:         config.Store,
		onStateChange: config.OnStateChange,
		resources:     make(map[string]*Resource),
	}
}

// Store returns the backing store.
func (r *Registry) Store() shm.Store {
	return r.store
}

// FetchOrCreate returns the resource for id, opening its shared state with
// opts on first use. Later calls return the cached resource and ignore
// opts. Concurrent first use opens the region once.
func (r *Registry) FetchOrCreate(id string, opts Options) (*Resource, error) {
	if res, ok := r.Get(id); ok {
		return res, nil
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if res, ok := r.Get(id); ok {
			return res, nil
		}

		region, err := r.store.Open(id, opts.sizing())
		if err != nil {
			return nil, err
		}
		res := newResource(region, opts, r.onStateChange)

		r.mu.Lock()
		r.resources[id] = res
		r.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resource), nil
}

// Get returns the cached resource for id.
func (r *Registry) Get(id string) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	return res, ok
}

// Identifiers returns the cached identifiers, sorted.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.resources))
}

// Known returns every identifier with state in the store, including those
// created by other processes, merged with the cached ones and sorted.
func (r *Registry) Known() ([]string, error) {
	stored, err := r.store.List()
	if err != nil {
		return nil, err
	}
	ids := append(stored, r.Identifiers()...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Status reads the shared state for id, attaching to the store when the
// identifier is not cached.
func (r *Registry) Status(id string) (Status, error) {
	region, done, err := r.regionFor(id)
	if err != nil {
		return Status{}, err
	}
	defer done()
	return readStatus(region)
}

// Reset refills the tickets and closes the circuit for id without
// destroying its state, then evicts the cached entry so the next fetch
// resolves options again.
func (r *Registry) Reset(id string) error {
	from, err := r.reset(id)
	if errors.Is(err, shm.ErrDestroyed) {
		// The cached handle outlived its state; retry against the store.
		r.evict(id, nil)
		from, err = r.reset(id)
		if errors.Is(err, shm.ErrDestroyed) {
			err = fmt.Errorf("%w: %s", ErrUnknownResource, id)
		}
	}
	if err != nil {
		return err
	}

	r.evict(id, nil)
	if from != StateClosed && r.onStateChange != nil {
		r.onStateChange(id, from, StateClosed)
	}
	return nil
}

func (r *Registry) reset(id string) (State, error) {
	region, done, err := r.regionFor(id)
	if err != nil {
		return StateClosed, err
	}
	defer done()

	var from State
	err = region.WithLock(func(rec *shm.Record) error {
		from = stateOf(rec)
		shm.ResetRecord(rec)
		return nil
	})
	return from, err
}

// Destroy evicts id and removes its shared state. A later FetchOrCreate
// rebuilds it from scratch.
func (r *Registry) Destroy(id string) error {
	r.evict(id, nil)
	return r.store.Destroy(id)
}

// Close releases every cached region. Regions with tickets still out close
// when the last one is released. The shared state is kept.
func (r *Registry) Close() error {
	r.mu.Lock()
	resources := r.resources
	r.resources = make(map[string]*Resource)
	r.mu.Unlock()

	var errs []error
	for _, res := range resources {
		if err := res.retire(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// evict drops the cached entry for id and retires it. When only is non-nil
// the entry is dropped only if it is still that resource.
func (r *Registry) evict(id string, only *Resource) {
	r.mu.Lock()
	res, ok := r.resources[id]
	if ok && (only == nil || res == only) {
		delete(r.resources, id)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		_ = res.retire()
	}
}

// regionFor returns the cached region for id under a lease, or attaches to
// the store. done must be called once the region is no longer used.
func (r *Registry) regionFor(id string) (shm.Region, func(), error) {
	if res, ok := r.Get(id); ok && res.hold() {
		return res.region, res.unhold, nil
	}
	region, err := r.attach(id)
	if err != nil {
		return nil, nil, err
	}
	return region, func() { _ = region.Close() }, nil
}

func (r *Registry) attach(id string) (shm.Region, error) {
	region, err := r.store.Attach(id)
	if errors.Is(err, shm.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	return region, err
}
