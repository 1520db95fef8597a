package auth

import (
	"context"
	"slices"
	"strings"
)

// Built-in roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Role is what a role may do.
type Role struct {
	// Actions lists permitted actions; "*" permits all.
	Actions []string

	// Resources restricts the role to matching identifiers. A trailing "*"
	// matches a prefix. Empty matches every identifier.
	Resources []string

	// Inherits names roles whose grants this role also receives.
	Inherits []string
}

// RBACConfig maps role names to roles.
type RBACConfig struct {
	Roles map[string]Role

	// DefaultRole applies to identities that carry no roles.
	DefaultRole string
}

// DefaultRBACConfig grants viewer read access and operator read, reset and
// destroy.
func DefaultRBACConfig() RBACConfig {
	return RBACConfig{Roles: map[string]Role{
		RoleViewer:   {Actions: []string{ActionRead}},
		RoleOperator: {Actions: []string{ActionReset, ActionDestroy}, Inherits: []string{RoleViewer}},
	}}
}

// RBACAuthorizer authorizes by role. Inheritance is flattened once at
// construction; unknown inherited roles grant nothing.
type RBACAuthorizer struct {
	grants      map[string][]Role
	defaultRole string
}

// NewRBACAuthorizer compiles cfg.
func NewRBACAuthorizer(cfg RBACConfig) *RBACAuthorizer {
	a := &RBACAuthorizer{
		grants:      make(map[string][]Role, len(cfg.Roles)),
		defaultRole: cfg.DefaultRole,
	}
	for name := range cfg.Roles {
		a.grants[name] = flatten(cfg.Roles, name, map[string]bool{})
	}
	return a
}

func flatten(roles map[string]Role, name string, seen map[string]bool) []Role {
	role, ok := roles[name]
	if !ok || seen[name] {
		return nil
	}
	seen[name] = true
	out := []Role{role}
	for _, parent := range role.Inherits {
		out = append(out, flatten(roles, parent, seen)...)
	}
	return out
}

// Authorize implements Authorizer.
func (a *RBACAuthorizer) Authorize(_ context.Context, id *Identity, action, resource string) error {
	if id == nil {
		return &DeniedError{Action: action, Resource: resource, Reason: "not authenticated"}
	}
	roles := id.Roles
	if len(roles) == 0 && a.defaultRole != "" {
		roles = []string{a.defaultRole}
	}
	for _, name := range roles {
		for _, g := range a.grants[name] {
			if g.permits(action, resource) {
				return nil
			}
		}
	}
	return &DeniedError{
		Principal: id.Principal,
		Action:    action,
		Resource:  resource,
		Reason:    "no role grants it",
	}
}

func (r Role) permits(action, resource string) bool {
	if !slices.Contains(r.Actions, "*") && !slices.Contains(r.Actions, action) {
		return false
	}
	if resource == "" || len(r.Resources) == 0 {
		return true
	}
	return slices.ContainsFunc(r.Resources, func(pattern string) bool {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			return strings.HasPrefix(resource, prefix)
		}
		return pattern == resource
	})
}

var _ Authorizer = (*RBACAuthorizer)(nil)
