package gateway

import "codeberg.org/mutker/hcgsync/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Authentication Errors
	ErrAuthentication = errors.ErrAuthentication
	ErrUnauthorized   = errors.ErrUnauthorized

	// Fetch Errors
	ErrFetch             = errors.ErrFetch
	ErrMalformedResponse = errors.ErrMalformedResponse
)

// IsUnauthorized reports whether err is the gateway's 401 signal.
func IsUnauthorized(err error) bool {
	return errors.HasCode(err, ErrUnauthorized)
}

// IsAuthentication reports whether login or refresh was rejected.
func IsAuthentication(err error) bool {
	return errors.HasCode(err, ErrAuthentication)
}
