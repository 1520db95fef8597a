// Package health reports the health of shared circuits and the store that
// holds them.
//
// A Checker reports one component. ResourceChecker maps an identifier's
// circuit to a Status: closed is healthy, half-open degraded and open
// unhealthy. StoreChecker reports whether the shared-state store can be
// listed.
//
// An Aggregator runs registered checkers with bounded concurrency and
// returns a Report whose Status is the worst of its checks.
// RegistryAggregator additionally keeps one ResourceChecker per identifier
// known to a resilience.Registry, including identifiers created by other
// processes on the host:
//
//	agg := health.NewRegistryAggregator(registry)
//	agg.Register(health.NewStoreChecker(registry.Store()))
//	report := agg.Run(ctx)
//
// RegisterHandlers exposes liveness, readiness, the JSON report and single
// checks by name:
//
//	health.RegisterHandlers(mux, readiness, agg)
package health
