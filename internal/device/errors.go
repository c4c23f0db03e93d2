package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // event for a device owned by another account
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when a snapshot lacks an ID or has an unsupported series.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrUnsupportedAttribute is returned when a patch sets an attribute the
	// device's series does not expose.
	ErrUnsupportedAttribute = errors.New("device: unsupported attribute")

	// ErrInvalidValue is returned when an attribute value is out of range.
	ErrInvalidValue = errors.New("device: invalid value")
)
