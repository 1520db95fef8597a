package admin

import "errors"

// ErrMissingRegistry is returned by New without a registry.
var ErrMissingRegistry = errors.New("admin: registry is required")
