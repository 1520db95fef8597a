// Package admin serves the operator HTTP API over a resilience registry.
//
// Routes:
//
//	GET    /v1/resources             every identifier with state on the host
//	GET    /v1/resources/{id}        one identifier's state
//	POST   /v1/resources/{id}/reset  refill tickets and close the circuit
//	DELETE /v1/resources/{id}        remove the shared state
//	GET    /healthz /readyz /health  liveness, readiness and detail
//	GET    /metrics                  Prometheus exposition, when configured
//
// Resource routes require authentication. viewer may read; operator may
// also reset and destroy. Health and metrics routes are open.
package admin
