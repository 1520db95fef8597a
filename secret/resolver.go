package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RefPrefix marks a secret reference.
const RefPrefix = "secretref:"

// refPattern matches secretref:<provider>:<ref>. A ref ends at whitespace.
var refPattern = regexp.MustCompile(`secretref:([a-z][a-z0-9_-]*):(\S+)`)

// Resolver expands environment variables in configuration values and
// replaces every secret reference with what its provider returns.
//
// A nil *Resolver only expands the environment.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver over providers. Later providers replace
// earlier ones with the same name.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// NewDefaultResolver creates a resolver with the env and file providers.
// Relative file references resolve against baseDir.
func NewDefaultResolver(baseDir string) *Resolver {
	return NewResolver(EnvProvider{}, FileProvider{BaseDir: baseDir})
}

// Close closes every provider and joins their errors.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, p := range r.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// ResolveValue expands value with ExpandEnv, then resolves its references.
// A reference may be the whole value or embedded in it, as in
// "Bearer secretref:env:TOKEN".
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnv(value)
	if err != nil {
		return "", err
	}
	if r == nil || !strings.Contains(expanded, RefPrefix) {
		return expanded, nil
	}

	var firstErr error
	out := refPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := refPattern.FindStringSubmatch(match)
		v, err := r.resolve(ctx, sub[1], sub[2])
		if err != nil {
			firstErr = err
			return match
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, name, ref string) (string, error) {
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrEmptySecret, name, ref)
	}
	return v, nil
}
