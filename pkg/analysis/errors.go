package analysis

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoEndpoint is returned when the analyze endpoint is not configured.
	ErrNoEndpoint = errors.New("analysis: endpoint required")

	// ErrNoRefreshEndpoint is returned by Refresh when no refresh endpoint
	// is configured.
	ErrNoRefreshEndpoint = errors.New("analysis: refresh endpoint required")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("analysis: transport failure")

	// ErrInvalidStatus is returned when the service answers with a status
	// outside success/indifferent/busy. It is a protocol violation.
	ErrInvalidStatus = errors.New("analysis: invalid status")

	// ErrMalformedResponse is returned when the body cannot be decoded.
	ErrMalformedResponse = errors.New("analysis: malformed response")
)

// TransportError is a non-2xx response from the analysis service.
type TransportError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Endpoint is the URL that was called.
	Endpoint string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("analysis: %s returned HTTP %d", e.Endpoint, e.StatusCode)
}

// Is lets errors.Is(err, ErrTransport) match.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *TransportError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsUnauthorized returns true if credentials were rejected (HTTP 401/403).
func (e *TransportError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
