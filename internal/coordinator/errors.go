package coordinator

import "errors"

// Domain errors for the coordinator.
var (
	// ErrNotReady is returned for commands before the first successful sync.
	ErrNotReady = errors.New("coordinator: not ready")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("coordinator: stopped")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("coordinator: already started")

	// ErrAccountNotFound is returned by Manager lookups for unknown accounts.
	ErrAccountNotFound = errors.New("coordinator: account not found")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("coordinator: invalid configuration")
)
