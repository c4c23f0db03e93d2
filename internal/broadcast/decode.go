package broadcast

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const proxyPrefix = "PROXY "

// Event is one decoded broadcast.
//
// HasStatus is false when the datagram only identified the device, either
// through the plain-text fallback or because the status token was not
// numeric. Such an event still proves the device is alive.
type Event struct {
	DeviceID   string
	IP         net.IP
	Status     uint32
	HasStatus  bool
	ReceivedAt time.Time
}

// hexPayload is the JSON document carried hex-encoded in a datagram.
type hexPayload struct {
	DeviceID    string `json:"device_id"`
	StateString string `json:"state_string"`
}

// Decode parses a datagram received from peer.
//
// A leading proxy header replaces peer with the declared source address.
// The payload is tried as hex-encoded JSON first; if that fails it is taken
// as plain text whose device id is the part before the first underscore.
func Decode(data []byte, peer net.IP) (Event, error) {
	payload, ip, err := stripProxyHeader(string(data), peer)
	if err != nil {
		return Event{}, err
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Event{}, fmt.Errorf("%w: empty payload", ErrMalformedDatagram)
	}

	ev := Event{IP: ip}

	if msg, ok := decodeHexJSON(payload); ok {
		if msg.DeviceID == "" {
			return Event{}, fmt.Errorf("%w: device_id missing", ErrMalformedDatagram)
		}
		ev.DeviceID = msg.DeviceID
		ev.Status, ev.HasStatus = parseStateString(msg.StateString)
		return ev, nil
	}

	id, _, _ := strings.Cut(payload, "_")
	if id == "" {
		return Event{}, fmt.Errorf("%w: no device id in %q", ErrMalformedDatagram, payload)
	}
	ev.DeviceID = id
	return ev, nil
}

// stripProxyHeader removes a "PROXY TCP4 <src> <dst> <sport> <dport> "
// header. A first line of exactly six fields ending in CRLF is also a
// header; otherwise the header is space delimited and the payload is
// trimmed by the caller.
func stripProxyHeader(s string, peer net.IP) (string, net.IP, error) {
	if !strings.HasPrefix(s, proxyPrefix) {
		return s, peer, nil
	}

	var header, payload string
	if line, rest, ok := strings.Cut(s, "\r\n"); ok && len(strings.Fields(line)) == 6 {
		header, payload = line, rest
	} else {
		fields := strings.SplitN(s, " ", 7)
		if len(fields) < 7 {
			return "", nil, fmt.Errorf("%w: truncated proxy header", ErrMalformedDatagram)
		}
		header, payload = strings.Join(fields[:6], " "), fields[6]
	}

	fields := strings.Fields(header)
	if len(fields) < 3 {
		return "", nil, fmt.Errorf("%w: truncated proxy header", ErrMalformedDatagram)
	}
	src := net.ParseIP(fields[2])
	if src == nil {
		return "", nil, fmt.Errorf("%w: bad proxy source %q", ErrMalformedDatagram, fields[2])
	}
	return payload, src, nil
}

func decodeHexJSON(payload string) (hexPayload, bool) {
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return hexPayload{}, false
	}
	var msg hexPayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&msg); err != nil {
		return hexPayload{}, false
	}
	return msg, true
}

// parseStateString returns the status integer, the first comma-separated token.
func parseStateString(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	first, _, _ := strings.Cut(s, ",")
	first = strings.TrimSpace(first)
	for _, r := range first {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(first, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// EncodeDatagram builds the hex-encoded form of a broadcast. Used by
// simulators and tests.
func EncodeDatagram(deviceID string, status uint32) []byte {
	doc, _ := json.Marshal(hexPayload{
		DeviceID:    deviceID,
		StateString: strconv.FormatUint(uint64(status), 10) + ",0,0",
	})
	return []byte(hex.EncodeToString(doc))
}
