package gateway

import (
	"errors"
	"fmt"
)

// GatewayError reports a failed remote request.
type GatewayError struct {
	Method string
	URL    string

	// Status and StatusText are set for non-2xx replies.
	Status     int
	StatusText string

	// Transport is set when no reply was received (refused, DNS, timeout,
	// cancellation). Err carries the underlying cause.
	Transport bool
	Err       error
}

// Error implements error.
func (e *GatewayError) Error() string {
	if e.Transport {
		return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, e.StatusText)
}

// Unwrap returns the transport cause, if any.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a GatewayError without a reply.
func IsTransport(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Transport
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Status
	}
	return 0
}

// IsGatewayError reports whether err is or wraps a GatewayError.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}
