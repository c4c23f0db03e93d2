package broadcast

import "errors"

// Domain errors for the broadcast listener.
var (
	// ErrBind is returned when the broadcast port cannot be bound.
	ErrBind = errors.New("broadcast: cannot bind socket")

	// ErrMalformedDatagram is returned by Decode for datagrams that carry
	// no usable device identifier.
	ErrMalformedDatagram = errors.New("broadcast: malformed datagram")

	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("broadcast: session closed")

	// ErrSend wraps a failed local command write.
	ErrSend = errors.New("broadcast: local send failed")

	// ErrNoAddress is returned by Sender.Send without a target IP.
	ErrNoAddress = errors.New("broadcast: no local address")

	// ErrAlreadyRegistered is returned when a key is registered twice.
	ErrAlreadyRegistered = errors.New("broadcast: key already registered")
)
