package resilience

import (
	"errors"
	"fmt"

	"github.com/jonwraymond/semian/shm"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrResourceBusy is returned when every bulkhead ticket is held.
	ErrResourceBusy = errors.New("resilience: resource busy")

	// ErrUnknownResource is returned by administrative operations on an
	// identifier that has no state.
	ErrUnknownResource = errors.New("resilience: unknown resource")

	// ErrInvalidOptions is returned when resolved options fail validation.
	ErrInvalidOptions = errors.New("resilience: invalid options")

	// ErrStateUnavailable is returned when shared state for an identifier
	// cannot be created or attached. The operation is never run.
	ErrStateUnavailable = shm.ErrStateUnavailable
)

// RejectionError reports that a call was refused before the operation ran.
// Err is ErrResourceBusy or ErrCircuitOpen.
type RejectionError struct {
	Identifier string
	Err        error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Identifier)
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// IsRejection reports whether err is a bulkhead or circuit breaker rejection.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
