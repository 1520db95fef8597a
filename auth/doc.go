// Package auth authenticates and authorizes operator requests to the admin
// API.
//
// Callers present either an API key in X-API-Key or an HS256 JWT bearer
// token. The resulting Identity carries roles; the RBAC authorizer maps
// roles to actions. Two roles are built in: viewer may read state and
// operator may also reset and destroy it.
//
//	authn := auth.NewChain(apiKeys, jwtAuth, auth.NewAnonymousAuthenticator(auth.RoleViewer))
//	authz := auth.NewRBACAuthorizer(auth.DefaultRBACConfig())
//	mux.Handle("POST /v1/resources/{id}/reset", auth.Require(authn, authz, auth.ActionReset, handler))
package auth
