// Package resilience protects calls to remote resources with a bulkhead and
// a circuit breaker whose state is shared by every process on the host.
//
// Each protected resource is named by an identifier. The first use of an
// identifier opens its shared state in an shm.Store; later users, in this
// process or another one, attach to the same state and see the same ticket
// pool and circuit.
//
// # Patterns
//
//   - Bulkhead: a fixed pool of tickets per identifier. TryAcquire never
//     waits; when every ticket is held the call is refused with
//     ErrResourceBusy.
//
//   - Circuit Breaker: after ErrorThreshold consecutive tracked failures the
//     circuit opens and calls are refused with ErrCircuitOpen until
//     ErrorTimeout has elapsed. The next call is a trial; SuccessThreshold
//     successful trials close the circuit and a single failed one reopens it.
//
// Both refusals happen before the operation runs and are reported as a
// *RejectionError.
//
// # Usage
//
//	store, err := shm.NewFileStore("")
//	if err != nil {
//	    return err
//	}
//	registry := resilience.NewRegistry(resilience.RegistryConfig{Store: store})
//	guard := resilience.NewGuard(registry, resilience.Static(resilience.DefaultOptions()))
//
//	body, err := resilience.Run(ctx, guard, "http_example_com_443",
//	    func(ctx context.Context) ([]byte, error) {
//	        return fetch(ctx)
//	    }, nil)
//	if resilience.IsRejection(err) {
//	    // fail fast: the remote was not contacted
//	}
//
// # Configuration
//
// A Resolver maps identifiers to Options. Returning nil disables protection
// for that identifier and the operation runs directly. WithResolver scopes a
// different resolver to a context, which is how tests and callers override
// options for a single call tree.
package resilience
