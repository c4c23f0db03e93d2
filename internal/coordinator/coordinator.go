package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/broadcast"
	"github.com/dasshubham762/atomberg-integration/internal/cloud"
	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// Default timings.
const (
	DefaultRefreshInterval     = 30 * time.Second
	DefaultRefreshTimeout      = 10 * time.Second
	DefaultCommandTimeout      = 10 * time.Second
	DefaultAvailabilityTimeout = 15 * time.Second
	DefaultSweepInterval       = 5 * time.Second

	persistTimeout = 5 * time.Second
)

// State is the lifecycle state of one account.
type State string

// Lifecycle states.
const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateDegraded      State = "degraded"
	StateStopped       State = "stopped"
)

// Logger defines the logging interface used by the coordinator.
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

// CloudAPI is the part of the cloud client the coordinator needs.
type CloudAPI interface {
	SyncDevices(ctx context.Context) ([]device.Snapshot, error)
	SendCommand(ctx context.Context, deviceID string, cmd device.Command) error
}

// Listener is the shared broadcast session.
type Listener interface {
	Register(key string, consumer broadcast.Consumer) (*broadcast.Subscription, int, error)
	Unregister(key string) int
}

// LocalSender sends commands straight to a fan on the LAN.
type LocalSender interface {
	Send(ctx context.Context, ip net.IP, cmd device.Command) error
}

// Config contains the per-account settings.
type Config struct {
	AccountID string

	// LocalControl sends commands to fans over UDP when their address is
	// known and they are online.
	LocalControl bool

	RefreshInterval     time.Duration
	RefreshTimeout      time.Duration
	CommandTimeout      time.Duration
	AvailabilityTimeout time.Duration
	SweepInterval       time.Duration
}

// Options holds the collaborators of a coordinator. Cloud is required.
type Options struct {
	Cloud     CloudAPI
	Listener  Listener
	Sender    LocalSender
	Snapshots device.SnapshotStore
	Logger    Logger
}

// Status summarises one account.
type Status struct {
	AccountID   string       `json:"account_id"`
	State       State        `json:"state"`
	LastRefresh *time.Time   `json:"last_refresh,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
	Devices     device.Stats `json:"devices"`

	// Err is the error behind the current degraded state, if any.
	Err error `json:"-"`
}

// Coordinator keeps one account's devices in sync.
//
// It merges cloud snapshots and local broadcasts into the account's
// registry, tracks availability, dispatches commands and notifies
// subscribers of every change.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator struct {
	cfg       Config
	cloud     CloudAPI
	listener  Listener
	sender    LocalSender
	snapshots device.SnapshotStore
	registry  *device.Registry
	logger    Logger
	now       func() time.Time

	mu          sync.RWMutex
	state       State
	lastErr     error
	lastRefresh time.Time

	subsMu sync.RWMutex
	subs   map[string]*Subscription

	// Serialises refreshes so a slow one never overlaps the next tick.
	refreshMu sync.Mutex

	startMu sync.Mutex
	started bool

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New creates a coordinator. Zero timings take the defaults.
func New(cfg Config, opts Options) (*Coordinator, error) {
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidConfig)
	}
	if opts.Cloud == nil {
		return nil, fmt.Errorf("%w: cloud client is required", ErrInvalidConfig)
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.AvailabilityTimeout <= 0 {
		cfg.AvailabilityTimeout = DefaultAvailabilityTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	registry := device.NewRegistry(cfg.AccountID)
	registry.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:       cfg,
		cloud:     opts.Cloud,
		listener:  opts.Listener,
		sender:    opts.Sender,
		snapshots: opts.Snapshots,
		registry:  registry,
		logger:    logger,
		now:       time.Now,
		state:     StateUninitialized,
		subs:      make(map[string]*Subscription),
		ctx:       ctx,
		ctxCancel: cancel,
	}, nil
}

// AccountID returns the account this coordinator serves.
func (c *Coordinator) AccountID() string {
	return c.cfg.AccountID
}

// Start restores cached devices, performs the initial cloud sync,
// registers with the broadcast listener and starts the refresh and
// availability timers.
//
// A failed initial sync is returned and leaves the coordinator
// uninitialized; Start may be called again.
func (c *Coordinator) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.State() == StateStopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}

	c.restore(ctx)

	if err := c.refresh(ctx); err != nil {
		c.recordError(err)
		return fmt.Errorf("initial sync for account %s: %w", c.cfg.AccountID, err)
	}
	c.setState(StateActive, nil)

	if c.listener != nil {
		_, n, err := c.listener.Register(c.cfg.AccountID, c.handleEvent)
		if err != nil {
			c.setState(StateUninitialized, err)
			return fmt.Errorf("registering broadcast consumer: %w", err)
		}
		c.logger.Debug("registered with broadcast listener", "registrations", n)
	}

	c.started = true
	c.wg.Add(2)
	go c.refreshLoop()
	go c.sweepLoop()

	c.logger.Info("account started",
		"account_id", c.cfg.AccountID,
		"devices", c.registry.Count(),
		"local_control", c.cfg.LocalControl)
	return nil
}

// Stop unregisters from the listener, stops the timers, persists the
// last known devices and removes them from the registry. Subscriptions
// that only follow this coordinator are closed.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.startMu.Lock()
		started := c.started
		c.startMu.Unlock()

		c.ctxCancel()
		c.wg.Wait()

		if started {
			if c.listener != nil {
				n := c.listener.Unregister(c.cfg.AccountID)
				c.logger.Debug("unregistered from broadcast listener", "registrations", n)
			}
			c.persist()
		}
		removed := c.registry.Clear()
		c.setState(StateStopped, nil)

		c.subsMu.RLock()
		subs := make([]*Subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.subsMu.RUnlock()
		for _, sub := range subs {
			if sub.soleOwner(c) {
				sub.Cancel()
			}
		}

		c.logger.Info("account stopped", "account_id", c.cfg.AccountID, "devices_removed", removed)
	})
}

// State returns the lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a summary of the account.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	st := Status{
		AccountID: c.cfg.AccountID,
		State:     c.state,
		Err:       c.lastErr,
	}
	if !c.lastRefresh.IsZero() {
		t := c.lastRefresh
		st.LastRefresh = &t
	}
	c.mu.RUnlock()

	if st.Err != nil {
		st.LastError = st.Err.Error()
	}
	st.Devices = c.registry.Stats()
	return st
}

// Devices returns copies of all devices, sorted by id.
func (c *Coordinator) Devices() []device.Device {
	return c.registry.List()
}

// Device returns a copy of one device.
func (c *Coordinator) Device(id string) (*device.Device, error) {
	return c.registry.Get(id)
}

// Owns reports whether the device belongs to this account.
func (c *Coordinator) Owns(id string) bool {
	return c.registry.Has(id)
}

// Refresh runs a cloud refresh now, outside the periodic timer.
func (c *Coordinator) Refresh(ctx context.Context) error {
	switch c.State() {
	case StateStopped:
		return ErrStopped
	case StateUninitialized:
		return ErrNotReady
	}
	return c.periodicRefresh(ctx)
}

func (c *Coordinator) setState(s State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return
	}
	c.state = s
	c.lastErr = err
}

func (c *Coordinator) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// restore loads the devices persisted by a previous run.
func (c *Coordinator) restore(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	devices, err := c.snapshots.Load(ctx, c.cfg.AccountID)
	if err != nil {
		c.logger.Warn("loading cached devices failed", "account_id", c.cfg.AccountID, "error", err)
		return
	}
	if n := c.registry.Restore(devices); n > 0 {
		c.logger.Info("restored cached devices", "account_id", c.cfg.AccountID, "count", n)
	}
}

// persist saves the registry contents, if a store is configured.
func (c *Coordinator) persist() {
	if c.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.snapshots.Save(ctx, c.cfg.AccountID, c.registry.List()); err != nil {
		c.logger.Warn("saving device cache failed", "account_id", c.cfg.AccountID, "error", err)
	}
}

// refresh pulls the device list and states from the cloud and merges
// them into the registry.
func (c *Coordinator) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	snapshots, err := c.cloud.SyncDevices(ctx)
	if err != nil {
		return err
	}

	for _, s := range snapshots {
		created, changed, err := c.registry.UpsertFromSnapshot(s)
		if err != nil {
			c.logger.Warn("ignoring invalid cloud snapshot", "device_id", s.ID, "error", err)
			continue
		}
		if created {
			changed = s.State.Fields()
		}
		if len(changed) > 0 {
			c.notify(s.ID, changed, SourceCloud)
		}
	}

	c.mu.Lock()
	c.lastRefresh = c.now()
	c.mu.Unlock()

	c.persist()
	return nil
}

// periodicRefresh applies the steady-state error policy: protocol errors
// are a no-op, everything else degrades the account until the next success.
func (c *Coordinator) periodicRefresh(ctx context.Context) error {
	err := c.refresh(ctx)
	switch {
	case err == nil:
		if c.State() == StateDegraded {
			c.logger.Info("cloud refresh recovered", "account_id", c.cfg.AccountID)
		}
		c.setState(StateActive, nil)
	case errors.Is(err, cloud.ErrProtocol):
		c.logger.Warn("cloud refresh returned unexpected data, keeping cached state",
			"account_id", c.cfg.AccountID, "error", err)
	default:
		if c.State() != StateDegraded {
			c.logger.Warn("cloud refresh failed, account degraded", "account_id", c.cfg.AccountID, "error", err)
		} else {
			c.logger.Debug("cloud refresh still failing", "account_id", c.cfg.AccountID, "error", err)
		}
		c.setState(StateDegraded, err)
	}
	return err
}

func (c *Coordinator) refreshLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.periodicRefresh(c.ctx) //nolint:errcheck // outcome is reflected in State
		}
	}
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep marks devices silent for longer than the availability timeout
// as offline.
func (c *Coordinator) sweep() {
	for _, id := range c.registry.SweepAvailability(c.now(), c.cfg.AvailabilityTimeout) {
		c.notify(id, []string{device.AttrOnline}, SourceSweep)
	}
}

// handleEvent merges one broadcast. Events for devices of other accounts
// are ignored.
func (c *Coordinator) handleEvent(ev broadcast.Event) {
	if !c.registry.Has(ev.DeviceID) {
		return
	}

	seenAt := ev.ReceivedAt
	if seenAt.IsZero() {
		seenAt = c.now()
	}

	var changed []string
	flipped, err := c.registry.MarkSeen(ev.DeviceID, seenAt, ev.IP)
	if err != nil {
		c.logger.Warn("dropping broadcast", "device_id", ev.DeviceID, "error", err)
		return
	}
	if flipped {
		changed = append(changed, device.AttrOnline)
	}

	if ev.HasStatus {
		d, err := c.registry.Get(ev.DeviceID)
		if err != nil {
			c.logger.Warn("dropping broadcast", "device_id", ev.DeviceID, "error", err)
			return
		}
		patched, err := c.registry.PatchState(ev.DeviceID, broadcast.DecodeStatus(ev.Status, d.Capabilities()))
		if err != nil {
			c.logger.Warn("dropping broadcast state", "device_id", ev.DeviceID, "status", ev.Status, "error", err)
		}
		changed = append(changed, patched...)
	}

	if len(changed) > 0 {
		c.notify(ev.DeviceID, changed, SourceBroadcast)
	}
}
