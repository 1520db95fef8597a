// Package httpguard protects outbound HTTP with semian resources.
//
// Every host:port pair is its own identifier, named by Identifier:
// "http_" + host with non-word characters replaced by "_" + "_" + port.
// localhost and 127.0.0.1 are therefore tracked separately.
//
// Protection can be applied at two scopes:
//   - Transport wraps an http.RoundTripper; each request holds a ticket
//     until its response body is closed.
//   - Dialer wraps net.Dialer; each new connection takes a ticket.
//
// Use one scope per client. Both guard the same identifier, so stacking
// them takes two tickets per request.
//
// Only errors in the adapter's tracked set (DefaultErrors plus anything
// added with AddErrors) count toward opening a circuit. Options resolved
// with a non-empty TrackedErrors override the adapter set for that
// identifier.
package httpguard
