package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonwraymond/semian/shm"
)

// Options configures protection for one identifier.
type Options struct {
	// Tickets is the bulkhead capacity.
	Tickets uint32 `yaml:"tickets" validate:"gt=0"`

	// ErrorThreshold is the number of consecutive tracked failures that
	// trip the circuit.
	ErrorThreshold uint32 `yaml:"error_threshold" validate:"gt=0"`

	// SuccessThreshold is the number of consecutive half-open successes
	// that close the circuit.
	SuccessThreshold uint32 `yaml:"success_threshold" validate:"gt=0"`

	// ErrorTimeout is the open-circuit cooldown.
	ErrorTimeout time.Duration `yaml:"error_timeout" validate:"gt=0"`

	// TrackedErrors selects which operation errors count as failures.
	// An empty set tracks every error.
	TrackedErrors ErrorSet `yaml:"-"`
}

// DefaultOptions returns tickets 3, success threshold 1, error threshold 3
// and a 10 second error timeout.
func DefaultOptions() Options {
	return Options{
		Tickets:          3,
		ErrorThreshold:   3,
		SuccessThreshold: 1,
		ErrorTimeout:     10 * time.Second,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func optionsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that every numeric field is positive.
func (o Options) Validate() error {
	if err := optionsValidator().Struct(o); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

func (o Options) sizing() shm.Sizing {
	return shm.Sizing{Tickets: o.Tickets}
}

func (o Options) breakerConfig(onStateChange func(string, State, State)) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ErrorThreshold:   o.ErrorThreshold,
		SuccessThreshold: o.SuccessThreshold,
		ErrorTimeout:     o.ErrorTimeout,
		OnStateChange:    onStateChange,
	}
}

// ErrorMatcher reports whether err belongs to an error kind.
type ErrorMatcher func(err error) bool

// Is matches errors for which errors.Is(err, target) holds.
func Is(target error) ErrorMatcher {
	return func(err error) bool { return errors.Is(err, target) }
}

// As matches errors whose chain contains an E.
func As[E error]() ErrorMatcher {
	return func(err error) bool {
		var target E
		return errors.As(err, &target)
	}
}

// Match matches errors for which pred returns true.
func Match(pred func(error) bool) ErrorMatcher {
	return ErrorMatcher(pred)
}

// ErrorSet is an immutable set of error kinds.
type ErrorSet struct {
	matchers []ErrorMatcher
}

// NewErrorSet creates a set from matchers. Nil matchers are skipped.
func NewErrorSet(matchers ...ErrorMatcher) ErrorSet {
	return ErrorSet{}.With(matchers...)
}

// With returns a copy of s extended with matchers.
func (s ErrorSet) With(matchers ...ErrorMatcher) ErrorSet {
	out := make([]ErrorMatcher, 0, len(s.matchers)+len(matchers))
	out = append(out, s.matchers...)
	for _, m := range matchers {
		if m != nil {
			out = append(out, m)
		}
	}
	return ErrorSet{matchers: out}
}

// Len returns the number of matchers in the set.
func (s ErrorSet) Len() int {
	return len(s.matchers)
}

// Contains reports whether err is tracked. A nil error never is; an empty
// set tracks every non-nil error.
func (s ErrorSet) Contains(err error) bool {
	if err == nil {
		return false
	}
	if len(s.matchers) == 0 {
		return true
	}
	for _, m := range s.matchers {
		if m(err) {
			return true
		}
	}
	return false
}

// Classify maps err to an Outcome using the set.
func (s ErrorSet) Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case s.Contains(err):
		return OutcomeFailure
	default:
		return OutcomeIgnored
	}
}

// Classifier maps an operation error to an Outcome. It is only called with
// non-nil errors.
type Classifier func(err error) Outcome
