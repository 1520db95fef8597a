package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ResourceFunc extracts the target identifier from a request.
type ResourceFunc func(r *http.Request) string

// PathResource reads the named path wildcard.
func PathResource(name string) ResourceFunc {
	return func(r *http.Request) string {
		return r.PathValue(name)
	}
}

// Require runs next only for requests authn identifies and authz permits
// to take action. The identity travels in the request context.
// Rejected credentials answer 401 and a denied action 403, both as JSON.
func Require(authn Authenticator, authz Authorizer, action string, resource ResourceFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := authn.Authenticate(ctx, r.Header)
		if err != nil {
			if IsCredentialError(err) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="semian"`)
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		target := ""
		if resource != nil {
			target = resource(r)
		}
		if err := authz.Authorize(ctx, id, action, target); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrForbidden) {
				code = http.StatusForbidden
			}
			writeError(w, code, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
	})
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
