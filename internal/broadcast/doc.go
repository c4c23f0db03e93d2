// Package broadcast listens for the status datagrams Atomberg fans
// broadcast on the LAN and sends commands to them directly.
//
// One Session owns the UDP socket for the whole process. Each account
// registers a consumer under its own key; every decoded Event is handed to
// every consumer through a bounded queue, and a consumer that falls behind
// only loses its own events.
//
// A datagram is either hex-encoded JSON:
//
//	{"device_id": "abc123", "state_string": "1048597,..."}
//
// or plain text starting with the device id followed by an underscore.
// Either form may be prefixed with a proxy header naming the real sender:
//
//	PROXY TCP4 10.0.0.5 10.0.0.9 1234 5625 abc123_other
//
// DecodeStatus unpacks the status integer into a device.Patch.
package broadcast
