package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/device"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/mqtt"
)

const (
	defaultCommandTimeout = 15 * time.Second
	defaultStatusInterval = 30 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// ErrBadCommand is returned for messages on a topic that is not a device command topic.
var ErrBadCommand = errors.New("relay: malformed command")

// Broker is the MQTT surface the relay needs.
type Broker interface {
	PublishJSON(topic string, v any, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Telemetry receives fan state points.
type Telemetry interface {
	WriteFanState(d device.Device, source string)
	WriteAvailability(d device.Device, source string)
}

// Fleet is the view of all coordinators the relay needs.
type Fleet interface {
	Devices() []device.Device
	Statuses() []coordinator.Status
	Execute(ctx context.Context, deviceID string, cmd device.Command) (coordinator.Route, error)
}

// Logger is the logging surface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config tunes the relay.
type Config struct {
	// QoS for the command subscription.
	QoS byte

	CommandTimeout time.Duration
	StatusInterval time.Duration
}

// Options holds the relay's sinks. Each sink is optional.
type Options struct {
	Broker    Broker
	Telemetry Telemetry
	History   device.StateHistoryRepository
	Logger    Logger
}

// Relay fans coordinator notifications out to MQTT, InfluxDB and the
// history table, and feeds MQTT commands back into the coordinators.
type Relay struct {
	fleet     Fleet
	broker    Broker
	telemetry Telemetry
	history   device.StateHistoryRepository
	logger    Logger
	cfg       Config
	topics    mqtt.Topics
	now       func() time.Time
}

// New creates a relay over fleet.
func New(fleet Fleet, cfg Config, opts Options) *Relay {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Relay{
		fleet:     fleet,
		broker:    opts.Broker,
		telemetry: opts.Telemetry,
		history:   opts.History,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run publishes the current fleet, then relays notifications until ctx is
// cancelled or the channel closes.
func (r *Relay) Run(ctx context.Context, notifications <-chan coordinator.Notification) error {
	if r.broker != nil {
		if err := r.broker.Subscribe(r.topics.AllDeviceCommands(), r.cfg.QoS, func(topic string, payload []byte) error {
			return r.handleCommand(ctx, topic, payload)
		}); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
		defer r.broker.Unsubscribe(r.topics.AllDeviceCommands()) //nolint:errcheck // best effort on shutdown
	}

	r.publishFleet()

	ticker := time.NewTicker(r.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			r.Handle(ctx, n)
		case <-ticker.C:
			r.publishStatuses()
		}
	}
}

// Handle relays a single notification to every configured sink.
func (r *Relay) Handle(ctx context.Context, n coordinator.Notification) {
	availability := slices.Contains(n.Changed, device.AttrOnline)

	if r.broker != nil {
		r.publishDevice(n.Device, availability)
	}

	if r.telemetry != nil {
		r.telemetry.WriteFanState(n.Device, n.Source)
		if availability {
			r.telemetry.WriteAvailability(n.Device, n.Source)
		}
	}

	if r.history != nil {
		writeCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
		defer cancel()
		err := r.history.RecordStateChange(writeCtx, device.StateHistoryEntry{
			DeviceID:  n.DeviceID,
			AccountID: n.AccountID,
			Changed:   n.Changed,
			State:     n.Device.State,
			Source:    n.Source,
			CreatedAt: r.now(),
		})
		if err != nil {
			r.logger.Warn("recording state history failed", "device_id", n.DeviceID, "error", err)
		}
	}
}

func (r *Relay) publishFleet() {
	if r.broker == nil {
		return
	}
	for _, d := range r.fleet.Devices() {
		r.publishDevice(d, true)
	}
	r.publishStatuses()
}

func (r *Relay) publishDevice(d device.Device, availability bool) {
	if err := r.broker.PublishJSON(r.topics.DeviceState(d.ID), d, true); err != nil {
		r.logger.Warn("publishing device state failed", "device_id", d.ID, "error", err)
	}
	if !availability {
		return
	}
	payload := []byte("offline")
	if d.State.Online {
		payload = []byte("online")
	}
	if err := r.broker.PublishRetained(r.topics.DeviceAvailability(d.ID), payload); err != nil {
		r.logger.Warn("publishing availability failed", "device_id", d.ID, "error", err)
	}
}

func (r *Relay) publishStatuses() {
	if r.broker == nil {
		return
	}
	for _, st := range r.fleet.Statuses() {
		if err := r.broker.PublishJSON(r.topics.AccountStatus(st.AccountID), st, true); err != nil {
			r.logger.Warn("publishing account status failed", "account_id", st.AccountID, "error", err)
		}
	}
}

// handleCommand decodes a payload from atomberg/device/{id}/command and
// executes it through the owning coordinator.
func (r *Relay) handleCommand(ctx context.Context, topic string, payload []byte) error {
	deviceID, kind, ok := mqtt.ParseDeviceTopic(topic)
	if !ok || kind != "command" {
		return fmt.Errorf("%w: unexpected topic %q", ErrBadCommand, topic)
	}

	cmd, err := device.ParseCommand(payload)
	if err != nil {
		r.logger.Warn("rejected MQTT command", "device_id", deviceID, "error", err)
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	route, err := r.fleet.Execute(execCtx, deviceID, cmd)
	if err != nil {
		r.logger.Warn("MQTT command failed", "device_id", deviceID, "error", err)
		return err
	}
	r.logger.Debug("MQTT command executed", "device_id", deviceID, "route", route)
	return nil
}
