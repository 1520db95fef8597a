package config

import "errors"

var (
	// ErrInvalidConfig is returned when a loaded configuration fails
	// validation.
	ErrInvalidConfig = errors.New("config: invalid configuration")

	// ErrUnknownEnvironment is returned when the selected environment has
	// no section in the file.
	ErrUnknownEnvironment = errors.New("config: unknown environment")

	// ErrInvalidDuration is returned for an error_timeout that is neither a
	// duration nor a number of seconds.
	ErrInvalidDuration = errors.New("config: invalid duration")
)
