package secret

import "errors"

var (
	// ErrProviderNotRegistered is returned for a secretref naming an
	// unknown provider.
	ErrProviderNotRegistered = errors.New("secret: provider not registered")

	// ErrEmptySecret is returned when a reference resolves to "".
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrSecretNotFound is returned by a provider when the reference does
	// not exist.
	ErrSecretNotFound = errors.New("secret: not found")

	// ErrMissingEnv is returned by ExpandEnv for unset variables.
	ErrMissingEnv = errors.New("secret: missing environment variables")
)
