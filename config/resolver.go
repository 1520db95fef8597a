package config

import (
	"sync/atomic"

	"github.com/jonwraymond/semian/resilience"
)

// tableResolver resolves identifiers from one environment's table. An
// entry marked disabled resolves to nil without consulting the default key.
type tableResolver struct {
	entries    map[string]*resilience.Options
	defaultKey string
}

func newTableResolver(resources map[string]ResourceConfig, defaultKey string) *tableResolver {
	entries := make(map[string]*resilience.Options, len(resources))
	for id, rc := range resources {
		if rc.Disabled {
			entries[id] = nil
			continue
		}
		o := rc.Options()
		entries[id] = &o
	}
	return &tableResolver{entries: entries, defaultKey: defaultKey}
}

func (r *tableResolver) Resolve(id string) *resilience.Options {
	o, ok := r.entries[id]
	if !ok && r.defaultKey != "" {
		o = r.entries[r.defaultKey]
	}
	if o == nil {
		return nil
	}
	out := *o
	return &out
}

// ReloadingResolver delegates to a resolver that can be replaced while
// guarded calls are in flight.
type ReloadingResolver struct {
	current atomic.Pointer[resolverHolder]
}

type resolverHolder struct {
	r resilience.Resolver
}

// NewReloadingResolver creates a resolver delegating to initial. A nil
// initial disables protection until the first Swap.
func NewReloadingResolver(initial resilience.Resolver) *ReloadingResolver {
	r := &ReloadingResolver{}
	r.Swap(initial)
	return r
}

// Resolve implements resilience.Resolver.
func (r *ReloadingResolver) Resolve(id string) *resilience.Options {
	return r.current.Load().r.Resolve(id)
}

// Swap installs next for subsequent Resolve calls.
func (r *ReloadingResolver) Swap(next resilience.Resolver) {
	if next == nil {
		next = resilience.Disabled()
	}
	r.current.Store(&resolverHolder{r: next})
}

var (
	_ resilience.Resolver = (*tableResolver)(nil)
	_ resilience.Resolver = (*ReloadingResolver)(nil)
)
