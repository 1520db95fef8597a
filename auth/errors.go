package auth

import "errors"

// Credential errors. Authenticators wrap them with detail.
var (
	// ErrMissingCredentials means the request carries nothing the
	// authenticator recognizes. A Chain moves on to the next one.
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrExpired            = errors.New("auth: credentials expired")
	ErrMalformed          = errors.New("auth: malformed token")
)

var (
	// ErrMissingSecret is returned when a JWT signing secret is empty.
	ErrMissingSecret = errors.New("auth: signing secret is required")

	// ErrForbidden matches every *DeniedError.
	ErrForbidden = errors.New("auth: access denied")
)

// IsCredentialError reports whether err rejects the caller's credentials,
// as opposed to an internal failure.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrMalformed)
}
