package observe

import "errors"

// Errors returned by Config.Validate, usually joined.
var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSampleRatio     = errors.New("observe: sample ratio must be within [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unknown tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unknown metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: unknown log level")
	ErrInvalidLogFormat       = errors.New("observe: unknown log format")
)

var (
	// ErrNilObserver is returned by MiddlewareFromObserver for a nil observer.
	ErrNilObserver = errors.New("observe: observer is nil")

	// ErrNilRegistry is returned by RegisterGauges without a status source.
	ErrNilRegistry = errors.New("observe: registry is nil")
)
