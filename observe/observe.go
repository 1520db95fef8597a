package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/semian/observe/exporters"
)

// Config selects what an Observer emits and where.
type Config struct {
	ServiceName string        `yaml:"service_name"`
	Version     string        `yaml:"version"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is one of exporters.TracingNames().
	Exporter string `yaml:"exporter"`

	// SampleRatio is the fraction of root spans kept, in [0, 1]. Child
	// spans follow their parent.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig configures instrument export.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is one of exporters.MetricsNames().
	Exporter string `yaml:"exporter"`

	// Registerer receives the prometheus collector when Exporter is
	// "prometheus". Nil uses the default registry.
	Registerer prometheus.Registerer `yaml:"-"`
}

// LoggingConfig configures the zerolog output.
type LoggingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Level is debug, info, warn or error. Empty means info.
	Level string `yaml:"level"`

	// Format is json or console. Empty means json.
	Format string `yaml:"format"`

	// Writer receives log output. Nil means os.Stderr.
	Writer io.Writer `yaml:"-"`
}

// Validate reports every invalid setting of the enabled subsystems.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrMissingServiceName
	}

	var errs []error
	if c.Tracing.Enabled {
		if !knownExporter(exporters.TracingNames(), c.Tracing.Exporter) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTracingExporter, c.Tracing.Exporter))
		}
		if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("%w: %g", ErrInvalidSampleRatio, r))
		}
	}
	if c.Metrics.Enabled && !knownExporter(exporters.MetricsNames(), c.Metrics.Exporter) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, c.Metrics.Exporter))
	}
	if c.Logging.Enabled {
		if _, ok := levels[c.Logging.Level]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level))
		}
		switch c.Logging.Format {
		case "", "json", "console":
		default:
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format))
		}
	}
	return errors.Join(errs...)
}

func knownExporter(names []string, name string) bool {
	return name == "" || slices.Contains(names, name)
}

// Observer hands out the tracer, meter and logger built from a Config.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: Shutdown honors cancellation and deadlines.
//   - Errors: Shutdown flushes every provider and joins their errors.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger

	// Shutdown flushes and stops the exporters.
	Shutdown(ctx context.Context) error
}

// Logger is a structured logger.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: logging is best-effort and never panics.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// WithResource returns a logger that tags every entry with the
	// resource identifier.
	WithResource(id string) Logger
}

// Field is one key/value pair of a log entry.
type Field struct {
	Key   string
	Value any
}

type observer struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger Logger

	// nil when the subsystem is disabled.
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// NewObserver validates cfg and builds the providers it enables. Disabled
// subsystems get no-op implementations.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	o := &observer{
		tracer: tracenoop.NewTracerProvider().Tracer(cfg.ServiceName),
		meter:  noop.NewMeterProvider().Meter(cfg.ServiceName),
		logger: noopLogger{},
	}

	if cfg.Tracing.Enabled {
		exp, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter)
		if err != nil {
			return nil, fmt.Errorf("observe: tracing: %w", err)
		}
		o.tp = newTracerProvider(res, exp, cfg.Tracing.SampleRatio)
		o.tracer = o.tp.Tracer(cfg.ServiceName)
	}

	if cfg.Metrics.Enabled {
		var opts []exporters.Option
		if cfg.Metrics.Registerer != nil {
			opts = append(opts, exporters.WithRegisterer(cfg.Metrics.Registerer))
		}
		reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, opts...)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("observe: metrics: %w", err), o.Shutdown(ctx))
		}
		mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		if reader != nil {
			mopts = append(mopts, sdkmetric.WithReader(reader))
		}
		o.mp = sdkmetric.NewMeterProvider(mopts...)
		o.meter = o.mp.Meter(cfg.ServiceName)
	}

	if cfg.Logging.Enabled {
		o.logger = newLoggerFromConfig(cfg.Logging)
	}
	return o, nil
}

func newTracerProvider(res *resource.Resource, exp sdktrace.SpanExporter, ratio float64) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...)
}

func (o *observer) Tracer() trace.Tracer { return o.tracer }
func (o *observer) Meter() metric.Meter  { return o.meter }
func (o *observer) Logger() Logger       { return o.logger }

func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error
	if o.tp != nil {
		if err := o.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observe: tracer shutdown: %w", err))
		}
	}
	if o.mp != nil {
		if err := o.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observe: meter shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

type noopLogger struct{}

func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (l noopLogger) WithResource(string) Logger            { return l }
