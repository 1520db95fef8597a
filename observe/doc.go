// Package observe instruments guarded calls with OpenTelemetry tracing and
// metrics and zerolog structured logging.
//
// A Middleware plugs into a resilience.Guard through Hooks and into a
// resilience.Registry through OnStateChange:
//
//	obs, _ := observe.NewObserver(ctx, cfg)
//	mw, _ := observe.MiddlewareFromObserver(obs)
//	registry := resilience.NewRegistry(resilience.RegistryConfig{OnStateChange: mw.OnStateChange})
//	guard := resilience.NewGuard(registry, resolver, resilience.WithHooks(mw.Hooks()))
//
// RegisterGauges publishes the host-wide ticket and circuit state of every
// identifier a registry knows about.
package observe
