package health

import "errors"

var (
	// ErrCheckPanicked is the error of a check that panicked.
	ErrCheckPanicked = errors.New("health: check panicked")

	// ErrCheckTimeout is the error of a check that outlived its deadline.
	ErrCheckTimeout = errors.New("health: check timed out")

	// ErrUnknownCheck is returned for a name with no registered checker.
	ErrUnknownCheck = errors.New("health: unknown check")
)
