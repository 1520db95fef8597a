package health_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/jonwraymond/semian/health"
	"github.com/jonwraymond/semian/resilience"
)

func ExampleFunc() {
	checker := health.Func("state_dir", func(ctx context.Context) health.Result {
		return health.Degraded("disk 91% full")
	})

	result := checker.Check(context.Background())
	fmt.Println(checker.Name(), result.Status, result.Message)
	// Output:
	// state_dir degraded disk 91% full
}

func ExampleFromCircuit() {
	for _, s := range []resilience.State{resilience.StateClosed, resilience.StateHalfOpen, resilience.StateOpen} {
		fmt.Printf("%s -> %s\n", s, health.FromCircuit(s))
	}
	// Output:
	// closed -> healthy
	// half-open -> degraded
	// open -> unhealthy
}

func ExampleNewResourceChecker() {
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	defer registry.Close()

	opts := resilience.DefaultOptions()
	opts.ErrorThreshold = 1
	res, _ := registry.FetchOrCreate("mysql_shard_0", opts)
	_ = res.Breaker().Record(resilience.OutcomeFailure, time.Now())

	result := health.NewResourceChecker(registry, "mysql_shard_0").Check(context.Background())
	fmt.Println(result.Status, result.Message)
	// Output:
	// unhealthy circuit open
}

func ExampleNewRegistryAggregator() {
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	defer registry.Close()
	_, _ = registry.FetchOrCreate("redis", resilience.DefaultOptions())

	agg := health.NewRegistryAggregator(registry)
	agg.Register(health.NewStoreChecker(registry.Store()))

	report := agg.Run(context.Background())
	fmt.Println(len(report.Checks), report.Status)
	// Output:
	// 2 healthy
}

func ExampleRegisterHandlers() {
	registry := resilience.NewRegistry(resilience.RegistryConfig{})
	defer registry.Close()

	ready := health.NewAggregator()
	ready.Register(health.NewStoreChecker(registry.Store()))
	detailed := health.NewRegistryAggregator(registry)

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, ready, detailed)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	fmt.Println(rec.Code, rec.Body.String())
	// Output:
	// 200 OK
}
