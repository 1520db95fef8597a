package auth

import (
	"context"
	"fmt"
)

// Admin actions.
const (
	ActionRead    = "read"
	ActionReset   = "reset"
	ActionDestroy = "destroy"
)

// Authorizer decides whether an identity may take an action on a resource.
// resource is empty for collection routes.
type Authorizer interface {
	Authorize(ctx context.Context, id *Identity, action, resource string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, id *Identity, action, resource string) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, id *Identity, action, resource string) error {
	return f(ctx, id, action, resource)
}

// AllowAll permits everything.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, *Identity, string, string) error {
	return nil
})

// DeniedError is returned when an identity lacks permission. It matches
// ErrForbidden.
type DeniedError struct {
	Principal string
	Action    string
	Resource  string
	Reason    string
}

func (e *DeniedError) Error() string {
	target := e.Resource
	if target == "" {
		target = "*"
	}
	return fmt.Sprintf("auth: %s may not %s %s: %s", e.Principal, e.Action, target, e.Reason)
}

// Is reports whether target is ErrForbidden.
func (e *DeniedError) Is(target error) bool {
	return target == ErrForbidden
}
