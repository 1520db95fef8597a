package resilience

import (
	"context"
	"maps"
)

// Resolver looks up the options for an identifier. A nil result disables
// protection for that identifier.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Resolve must not panic or block; it runs on every guarded call.
// - The returned Options must not be mutated by the caller.
type Resolver interface {
	Resolve(id string) *Options
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(id string) *Options

// Resolve calls f(id).
func (f ResolverFunc) Resolve(id string) *Options {
	return f(id)
}

type staticResolver struct {
	opts Options
}

// Static returns a resolver that applies opts to every identifier.
func Static(opts Options) Resolver {
	return staticResolver{opts: opts}
}

func (r staticResolver) Resolve(string) *Options {
	o := r.opts
	return &o
}

// Disabled returns a resolver that disables protection everywhere.
func Disabled() Resolver {
	return ResolverFunc(func(string) *Options { return nil })
}

// MapResolver resolves identifiers from a fixed table. When an identifier
// is missing and FallbackKey names an entry, that entry is used instead.
type MapResolver struct {
	entries     map[string]Options
	fallbackKey string
}

// NewMapResolver creates a resolver over a copy of entries. fallbackKey may
// be empty to disable the fallback.
func NewMapResolver(entries map[string]Options, fallbackKey string) *MapResolver {
	return &MapResolver{
		entries:     maps.Clone(entries),
		fallbackKey: fallbackKey,
	}
}

// Resolve implements Resolver.
func (r *MapResolver) Resolve(id string) *Options {
	if o, ok := r.entries[id]; ok {
		return &o
	}
	if r.fallbackKey != "" {
		if o, ok := r.entries[r.fallbackKey]; ok {
			return &o
		}
	}
	return nil
}

// FallbackKey returns the key consulted for unknown identifiers.
func (r *MapResolver) FallbackKey() string {
	return r.fallbackKey
}

type resolverKey struct{}

// WithResolver returns a context whose guarded calls resolve options with r
// instead of the guard's resolver. Scopes nest: the innermost wins and the
// outer resolver applies again once the inner context is no longer used.
func WithResolver(ctx context.Context, r Resolver) context.Context {
	return context.WithValue(ctx, resolverKey{}, r)
}

// ResolverFromContext returns the resolver attached by WithResolver.
func ResolverFromContext(ctx context.Context) (Resolver, bool) {
	r, ok := ctx.Value(resolverKey{}).(Resolver)
	return r, ok && r != nil
}
