package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

const (
	// DefaultCommandPort is the port fans accept local commands on.
	DefaultCommandPort = 5600

	defaultSendTimeout = 2 * time.Second
)

// Sender writes command datagrams directly to a fan on the LAN.
// Delivery is fire-and-forget: a successful write is a successful send.
type Sender struct {
	port    int
	timeout time.Duration
	logger  Logger
}

// NewSender creates a sender targeting port on each fan.
func NewSender(port int) *Sender {
	if port == 0 {
		port = DefaultCommandPort
	}
	return &Sender{port: port, timeout: defaultSendTimeout, logger: noopLogger{}}
}

// SetLogger sets the logger for the sender.
func (s *Sender) SetLogger(logger Logger) {
	s.logger = logger
}

// Send writes cmd as JSON to ip.
func (s *Sender) Send(ctx context.Context, ip net.IP, cmd device.Command) error {
	if ip == nil {
		return ErrNoAddress
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d net.Dialer
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(s.port))
	conn, err := d.DialContext(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("writing to %s: %w", addr, err)
	}

	s.logger.Debug("local command sent", "address", addr, "command", string(payload))
	return nil
}
