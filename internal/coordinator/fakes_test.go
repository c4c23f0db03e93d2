package coordinator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/broadcast"
	"github.com/dasshubham762/atomberg-integration/internal/device"
)

type fakeCloud struct {
	mu        sync.Mutex
	snapshots []device.Snapshot
	syncErr   error
	sendErr   error
	syncCalls int
	sent      []sentCommand
}

type sentCommand struct {
	DeviceID string
	Command  device.Command
}

func (f *fakeCloud) SyncDevices(context.Context) ([]device.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	out := make([]device.Snapshot, len(f.snapshots))
	copy(out, f.snapshots)
	return out, nil
}

func (f *fakeCloud) SendCommand(_ context.Context, id string, cmd device.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCommand{id, cmd})
	return nil
}

func (f *fakeCloud) setSyncErr(err error) {
	f.mu.Lock()
	f.syncErr = err
	f.mu.Unlock()
}

func (f *fakeCloud) sentCommands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

type fakeListener struct {
	mu        sync.Mutex
	consumers map[string]broadcast.Consumer
	err       error
}

func newFakeListener() *fakeListener {
	return &fakeListener{consumers: make(map[string]broadcast.Consumer)}
}

func (f *fakeListener) Register(key string, consumer broadcast.Consumer) (*broadcast.Subscription, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, len(f.consumers), f.err
	}
	f.consumers[key] = consumer
	return nil, len(f.consumers), nil
}

func (f *fakeListener) Unregister(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.consumers, key)
	return len(f.consumers)
}

// emit delivers an event to every consumer synchronously.
func (f *fakeListener) emit(ev broadcast.Event) {
	f.mu.Lock()
	consumers := make([]broadcast.Consumer, 0, len(f.consumers))
	for _, c := range f.consumers {
		consumers = append(consumers, c)
	}
	f.mu.Unlock()
	for _, c := range consumers {
		c(ev)
	}
}

func (f *fakeListener) registered(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.consumers[key]
	return ok
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentCommand
	ips  []net.IP
	err  error
}

func (f *fakeSender) Send(_ context.Context, ip net.IP, cmd device.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ips = append(f.ips, ip)
	f.sent = append(f.sent, sentCommand{Command: cmd})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeStore struct {
	mu      sync.Mutex
	saved   map[string][]device.Device
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string][]device.Device)}
}

func (f *fakeStore) Save(_ context.Context, accountID string, devices []device.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[accountID] = devices
	return nil
}

func (f *fakeStore) Load(_ context.Context, accountID string) ([]device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.saved[accountID], nil
}

func (f *fakeStore) Delete(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, accountID)
	return nil
}

func fanSnapshot(id, series string) device.Snapshot {
	return device.Snapshot{
		ID:     id,
		Name:   "Fan " + id,
		Model:  "Renesa",
		Series: series,
		Color:  "White",
		State: device.Patch{
			Power: device.Ptr(false),
			Speed: device.Ptr(2),
			Sleep: device.Ptr(false),
			LED:   device.Ptr(false),
		},
	}
}

type harness struct {
	c        *Coordinator
	cloud    *fakeCloud
	listener *fakeListener
	sender   *fakeSender
	store    *fakeStore
	now      time.Time
}

type harnessOption func(*Config)

func withLocalControl() harnessOption {
	return func(c *Config) { c.LocalControl = true }
}

// newHarness builds a coordinator over fakes holding fan-1 (R1) and
// fan-2 (I1). Long intervals keep the timers out of the way.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		cloud: &fakeCloud{snapshots: []device.Snapshot{
			fanSnapshot("fan-1", "R1"),
			fanSnapshot("fan-2", "I1"),
		}},
		listener: newFakeListener(),
		sender:   &fakeSender{},
		store:    newFakeStore(),
		now:      time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}

	cfg := Config{
		AccountID:       "home",
		RefreshInterval: time.Hour,
		SweepInterval:   time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c, err := New(cfg, Options{
		Cloud:     h.cloud,
		Listener:  h.listener,
		Sender:    h.sender,
		Snapshots: h.store,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.now = func() time.Time { return h.now }
	h.c = c
	t.Cleanup(c.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// seen emits a broadcast for id from ip.
func (h *harness) seen(id string, ip string, status uint32, hasStatus bool) {
	h.listener.emit(broadcast.Event{
		DeviceID:   id,
		IP:         net.ParseIP(ip),
		Status:     status,
		HasStatus:  hasStatus,
		ReceivedAt: h.now,
	})
}

func nextNotification(t *testing.T, sub *Subscription) Notification {
	t.Helper()
	select {
	case n, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func expectNoNotification(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case n := <-sub.C():
		t.Fatalf("unexpected notification %+v", n)
	default:
	}
}

func broadcastEvent(id string, at time.Time) broadcast.Event {
	return broadcast.Event{DeviceID: id, IP: net.ParseIP("192.168.1.50"), Status: 0x11, HasStatus: true, ReceivedAt: at}
}
