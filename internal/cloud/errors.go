package cloud

import (
	"errors"
	"fmt"
)

// Error classes of the Atomberg developer API.
//
// Every error returned by this package wraps exactly one of these, so
// callers can branch with errors.Is:
//
//	if errors.Is(err, cloud.ErrAuth) {
//	    // credentials need attention, do not retry
//	}
var (
	// ErrAuth is returned when the API key or refresh token is rejected.
	ErrAuth = errors.New("cloud: authentication failed")

	// ErrTransport is returned on network failure, timeout or a 5xx response.
	ErrTransport = errors.New("cloud: transport failure")

	// ErrProtocol is returned when a response does not have the expected shape.
	ErrProtocol = errors.New("cloud: unexpected response")

	// ErrCommandRejected is returned when the API declines a command.
	ErrCommandRejected = errors.New("cloud: command rejected")
)

// APIError carries the HTTP status and vendor message of a failed call.
// It is always wrapped together with one of the sentinel errors above.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d (status %q)", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
