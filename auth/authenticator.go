package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Authenticator establishes who sent a request from its headers.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: ErrMissingCredentials when the headers carry none of this
//     authenticator's credentials; another credential error (see
//     IsCredentialError) when they are present but rejected; anything else
//     is an internal failure.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, h http.Header) (*Identity, error)
}

// Chain consults authenticators in order. The first one that recognizes
// credentials decides; a rejected key is not retried as a token or as the
// anonymous identity.
type Chain struct {
	auths []Authenticator
}

// NewChain creates a chain. Nil entries are skipped, so optional methods
// can be passed unconditionally.
func NewChain(auths ...Authenticator) *Chain {
	c := &Chain{}
	for _, a := range auths {
		if a != nil {
			c.auths = append(c.auths, a)
		}
	}
	return c
}

// Name returns "chain".
func (c *Chain) Name() string { return "chain" }

// Len returns the number of authenticators.
func (c *Chain) Len() int { return len(c.auths) }

// Authenticate implements Authenticator.
func (c *Chain) Authenticate(ctx context.Context, h http.Header) (*Identity, error) {
	for _, a := range c.auths {
		id, err := a.Authenticate(ctx, h)
		switch {
		case errors.Is(err, ErrMissingCredentials):
			continue
		case err != nil && !IsCredentialError(err):
			return nil, fmt.Errorf("auth: %s: %w", a.Name(), err)
		}
		return id, err
	}
	return nil, ErrMissingCredentials
}

// AnonymousAuthenticator grants fixed roles to every request. Placed last
// in a Chain it admits callers that present no credentials.
type AnonymousAuthenticator struct {
	roles []string
}

// NewAnonymousAuthenticator creates an authenticator granting roles.
func NewAnonymousAuthenticator(roles ...string) *AnonymousAuthenticator {
	return &AnonymousAuthenticator{roles: roles}
}

// Name returns "anonymous".
func (a *AnonymousAuthenticator) Name() string { return "anonymous" }

// Authenticate implements Authenticator.
func (a *AnonymousAuthenticator) Authenticate(context.Context, http.Header) (*Identity, error) {
	return &Identity{
		Principal: "anonymous",
		Roles:     append([]string(nil), a.roles...),
		Method:    MethodAnonymous,
	}, nil
}

var (
	_ Authenticator = (*Chain)(nil)
	_ Authenticator = (*AnonymousAuthenticator)(nil)
)
