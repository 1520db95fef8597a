package observe_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/semian/observe"
	"github.com/jonwraymond/semian/resilience"
)

func ExampleNewObserver() {
	ctx := context.Background()
	obs, err := observe.NewObserver(ctx, observe.Config{
		ServiceName: "checkout",
		Version:     "2.4.1",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none", SampleRatio: 0.25},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer obs.Shutdown(ctx)

	_, span := obs.Tracer().Start(ctx, "semian.run")
	fmt.Println("valid span:", span.SpanContext().IsValid())
	span.End()

	_, err = observe.NewObserver(ctx, observe.Config{})
	fmt.Println(errors.Is(err, observe.ErrMissingServiceName))
	// Output:
	// valid span: true
	// true
}

func ExampleConfig_Validate() {
	cfg := observe.Config{
		ServiceName: "semian",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "otlp", SampleRatio: 0.1},
		Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
		Logging:     observe.LoggingConfig{Enabled: true, Level: "warn", Format: "console"},
	}
	fmt.Println(cfg.Validate())

	cfg.Logging.Level = "verbose"
	fmt.Println(errors.Is(cfg.Validate(), observe.ErrInvalidLogLevel))
	// Output:
	// <nil>
	// true
}

func ExampleLogger_WithResource() {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)

	logger.WithResource("mysql_shard_0").Info(context.Background(), "circuit state changed")

	fmt.Println("Contains resource:", bytes.Contains(buf.Bytes(), []byte(`"resource":"mysql_shard_0"`)))
	// Output:
	// Contains resource: true
}

func ExampleMiddleware_Hooks() {
	ctx := context.Background()

	cfg := observe.Config{
		ServiceName: "example",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "none"},
		Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "none"},
		Logging:     observe.LoggingConfig{Enabled: false},
	}
	obs, _ := observe.NewObserver(ctx, cfg)
	defer func() {
		_ = obs.Shutdown(ctx)
	}()

	mw, _ := observe.MiddlewareFromObserver(obs)

	registry := resilience.NewRegistry(resilience.RegistryConfig{OnStateChange: mw.OnStateChange})
	defer registry.Close()
	guard := resilience.NewGuard(registry, resilience.Static(resilience.DefaultOptions()),
		resilience.WithHooks(mw.Hooks()))

	err := guard.Execute(ctx, "payments_api", func(ctx context.Context) error {
		return nil
	})
	fmt.Println("Error:", err)
	// Output:
	// Error: <nil>
}

func ExampleRedacted() {
	for _, key := range []string{"Authorization", "api_key", "resource"} {
		fmt.Printf("%s: %v\n", key, observe.Redacted(key))
	}
	// Output:
	// Authorization: true
	// api_key: true
	// resource: false
}

func ExampleConfig_Validate_joined() {
	cfg := observe.Config{
		ServiceName: "my-service",
		Tracing:     observe.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 2},
	}
	err := cfg.Validate()
	fmt.Println(errors.Is(err, observe.ErrInvalidTracingExporter), errors.Is(err, observe.ErrInvalidSampleRatio))
	// Output:
	// true true
}
