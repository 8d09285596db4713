package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScheme indicates the Authorization header did not use Bearer
	ErrInvalidScheme = errors.New("authorization scheme must be Bearer")
	// ErrInvalidToken indicates a credential that failed validation
	ErrInvalidToken = errors.New("invalid token")
	// ErrMalformedToken indicates a static token with too few segments
	ErrMalformedToken = errors.New("malformed token")
	// ErrPermissionDenied indicates an entitlement mismatch
	ErrPermissionDenied = errors.New("permission denied")
	// ErrMissingField indicates a required request field is absent
	ErrMissingField = errors.New("missing required field")
	// ErrUnknownOperation indicates an operation the upstream router does not know
	ErrUnknownOperation = errors.New("unknown upstream operation")
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrStoreUnavailable indicates a storage backend failure
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUpstreamUnavailable indicates a transport failure talking to a proxied service
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrUpstreamTimeout indicates the total streaming deadline was exceeded
	ErrUpstreamTimeout = errors.New("upstream request timed out")
)

// UpstreamError is returned when a proxied service answers with a
// non-success status before any bytes have been relayed downstream.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Body)
}
