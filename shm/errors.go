package shm

import (
	"errors"
	"fmt"
)

// Sentinel errors for shared state operations.
var (
	// ErrStateUnavailable is returned when the backing state for an
	// identifier cannot be created or attached. It is fatal for that
	// identifier: callers must not fall back to unprotected execution.
	ErrStateUnavailable = errors.New("shm: shared state unavailable")

	// ErrNotFound is returned by Attach when no state exists for an identifier.
	ErrNotFound = errors.New("shm: state not found")

	// ErrDestroyed is returned by a handle whose state was destroyed after
	// the handle was opened. Reopen the identifier to get fresh state.
	ErrDestroyed = errors.New("shm: state destroyed")

	// ErrClosed is returned when a closed handle or store is used.
	ErrClosed = errors.New("shm: handle closed")

	// ErrInvalidIdentifier is returned for empty or oversized identifiers.
	ErrInvalidIdentifier = errors.New("shm: invalid identifier")
)

// unavailable wraps cause so that errors.Is(err, ErrStateUnavailable) holds
// while the underlying system error stays inspectable.
func unavailable(id, op string, cause error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrStateUnavailable, op, id, cause)
}
