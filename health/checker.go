package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonwraymond/semian/resilience"
)

// Status is the health of a component, ordered by severity.
type Status uint8

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

var statusNames = [...]string{
	StatusHealthy:   "healthy",
	StatusDegraded:  "degraded",
	StatusUnhealthy: "unhealthy",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText encodes s by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HTTPCode is the code a probe answers with. A degraded component still
// serves.
func (s Status) HTTPCode() int {
	if s >= StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// FromCircuit maps a circuit state to a health status: a closed circuit is
// healthy, a half-open one degraded and an open one unhealthy.
func FromCircuit(s resilience.State) Status {
	switch s {
	case resilience.StateClosed:
		return StatusHealthy
	case resilience.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// Worst returns the most severe of the given statuses, or StatusHealthy
// when none are given.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		worst = max(worst, s)
	}
	return worst
}

// Result is the outcome of one check.
type Result struct {
	Status  Status
	Message string
	Details map[string]any

	// Duration and CheckedAt are filled in by the aggregator.
	Duration  time.Duration
	CheckedAt time.Time

	// Error is the cause of a failed check.
	Error error
}

// Healthy returns a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message}
}

// Degraded returns a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message}
}

// Unhealthy returns an unhealthy result caused by err.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err}
}

// WithDetails returns r carrying details.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// MarshalJSON renders the duration and error as strings.
func (r Result) MarshalJSON() ([]byte, error) {
	v := struct {
		Status   Status         `json:"status"`
		Message  string         `json:"message,omitempty"`
		Duration string         `json:"duration,omitempty"`
		Details  map[string]any `json:"details,omitempty"`
		Error    string         `json:"error,omitempty"`
	}{
		Status:  r.Status,
		Message: r.Message,
		Details: r.Details,
	}
	if r.Duration > 0 {
		v.Duration = r.Duration.String()
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	return json.Marshal(v)
}

// Checker reports the health of one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// Func adapts fn to a Checker called name.
func Func(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, fn: fn}
}

type funcChecker struct {
	name string
	fn   func(context.Context) Result
}

func (f funcChecker) Name() string                     { return f.name }
func (f funcChecker) Check(ctx context.Context) Result { return f.fn(ctx) }
