package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/device"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeBroker struct {
	mu           sync.Mutex
	messages     []published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	subscribed   chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler), subscribed: make(chan struct{}, 1)}
}

func (b *fakeBroker) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.messages = append(b.messages, published{topic, data, retained})
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) PublishRetained(topic string, payload []byte) error {
	b.mu.Lock()
	b.messages = append(b.messages, published{topic, payload, true})
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.handlers[topic] = handler
	b.mu.Unlock()
	b.subscribed <- struct{}{}
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	b.unsubscribed = append(b.unsubscribed, topic)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) deliver(topic string, payload []byte) error {
	b.mu.Lock()
	h := b.handlers[mqtt.Topics{}.AllDeviceCommands()]
	b.mu.Unlock()
	return h(topic, payload)
}

func (b *fakeBroker) last(topic string) (published, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.messages) - 1; i >= 0; i-- {
		if b.messages[i].topic == topic {
			return b.messages[i], true
		}
	}
	return published{}, false
}

type fakeTelemetry struct {
	mu           sync.Mutex
	states       []string
	availability []string
}

func (f *fakeTelemetry) WriteFanState(d device.Device, source string) {
	f.mu.Lock()
	f.states = append(f.states, d.ID+"/"+source)
	f.mu.Unlock()
}

func (f *fakeTelemetry) WriteAvailability(d device.Device, source string) {
	f.mu.Lock()
	f.availability = append(f.availability, d.ID+"/"+source)
	f.mu.Unlock()
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []device.StateHistoryEntry
	err     error
}

func (f *fakeHistory) RecordStateChange(_ context.Context, entry device.StateHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistory) GetHistory(context.Context, device.HistoryQuery) ([]device.StateHistoryEntry, error) {
	return nil, nil
}

type executed struct {
	deviceID string
	cmd      device.Command
}

type fakeFleet struct {
	mu       sync.Mutex
	devices  []device.Device
	statuses []coordinator.Status
	executed []executed
	err      error
}

func (f *fakeFleet) Devices() []device.Device       { return f.devices }
func (f *fakeFleet) Statuses() []coordinator.Status { return f.statuses }

func (f *fakeFleet) Execute(_ context.Context, deviceID string, cmd device.Command) (coordinator.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.executed = append(f.executed, executed{deviceID, cmd})
	return coordinator.RouteCloud, nil
}

func testDevice(id string, online bool) device.Device {
	return device.Device{
		ID: id, AccountID: "home", Series: "R1",
		State: device.State{Power: true, Speed: 3, Online: online},
	}
}

func TestRelay_Handle(t *testing.T) {
	broker := newFakeBroker()
	telemetry := &fakeTelemetry{}
	history := &fakeHistory{}
	r := New(&fakeFleet{}, Config{}, Options{Broker: broker, Telemetry: telemetry, History: history})

	tests := []struct {
		name             string
		n                coordinator.Notification
		wantAvailability string
	}{
		{
			name: "state change",
			n: coordinator.Notification{
				AccountID: "home", DeviceID: "fan-1", Changed: []string{device.AttrSpeed},
				Device: testDevice("fan-1", true), Source: coordinator.SourceBroadcast,
			},
		},
		{
			name: "went offline",
			n: coordinator.Notification{
				AccountID: "home", DeviceID: "fan-2", Changed: []string{device.AttrOnline},
				Device: testDevice("fan-2", false), Source: coordinator.SourceSweep,
			},
			wantAvailability: "offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.Handle(context.Background(), tt.n)

			msg, ok := broker.last(mqtt.Topics{}.DeviceState(tt.n.DeviceID))
			if !ok || !msg.retained {
				t.Fatalf("state not published retained: %+v", msg)
			}
			var got device.Device
			if err := json.Unmarshal(msg.payload, &got); err != nil || got.ID != tt.n.DeviceID {
				t.Errorf("state payload = %s (%v)", msg.payload, err)
			}

			avail, ok := broker.last(mqtt.Topics{}.DeviceAvailability(tt.n.DeviceID))
			if tt.wantAvailability == "" && ok {
				t.Errorf("unexpected availability message %s", avail.payload)
			}
			if tt.wantAvailability != "" && string(avail.payload) != tt.wantAvailability {
				t.Errorf("availability = %q, want %q", avail.payload, tt.wantAvailability)
			}
		})
	}

	if len(telemetry.states) != 2 || telemetry.states[1] != "fan-2/sweep" {
		t.Errorf("telemetry states = %v", telemetry.states)
	}
	if len(telemetry.availability) != 1 || telemetry.availability[0] != "fan-2/sweep" {
		t.Errorf("telemetry availability = %v", telemetry.availability)
	}
	if len(history.entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history.entries))
	}
	if e := history.entries[0]; e.Source != coordinator.SourceBroadcast || e.AccountID != "home" || e.State.Speed != 3 {
		t.Errorf("history entry = %+v", e)
	}
}

func TestRelay_HandleWithoutSinks(t *testing.T) {
	r := New(&fakeFleet{}, Config{}, Options{})
	r.Handle(context.Background(), coordinator.Notification{DeviceID: "fan-1", Device: testDevice("fan-1", true)})
}

func TestRelay_HistoryErrorDoesNotBlockOtherSinks(t *testing.T) {
	broker := newFakeBroker()
	r := New(&fakeFleet{}, Config{}, Options{Broker: broker, History: &fakeHistory{err: errors.New("disk full")}})

	r.Handle(context.Background(), coordinator.Notification{DeviceID: "fan-1", Device: testDevice("fan-1", true)})

	if _, ok := broker.last(mqtt.Topics{}.DeviceState("fan-1")); !ok {
		t.Error("state should still be published")
	}
}

func TestRelay_Run(t *testing.T) {
	broker := newFakeBroker()
	fleet := &fakeFleet{
		devices:  []device.Device{testDevice("fan-1", true)},
		statuses: []coordinator.Status{{AccountID: "home", State: coordinator.StateActive}},
	}
	r := New(fleet, Config{StatusInterval: time.Hour}, Options{Broker: broker})

	ctx, cancel := context.WithCancel(context.Background())
	notifications := make(chan coordinator.Notification, 1)
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, notifications) }()

	select {
	case <-broker.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe to commands")
	}

	notifications <- coordinator.Notification{
		AccountID: "home", DeviceID: "fan-9", Changed: []string{device.AttrPower},
		Device: testDevice("fan-9", true), Source: coordinator.SourceCloud,
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := broker.last(mqtt.Topics{}.DeviceState("fan-9")); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("notification was not relayed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() = %v", err)
	}

	if _, ok := broker.last(mqtt.Topics{}.DeviceState("fan-1")); !ok {
		t.Error("initial fleet state not published")
	}
	if msg, ok := broker.last(mqtt.Topics{}.DeviceAvailability("fan-1")); !ok || string(msg.payload) != "online" {
		t.Errorf("initial availability = %q", msg.payload)
	}
	if _, ok := broker.last(mqtt.Topics{}.AccountStatus("home")); !ok {
		t.Error("account status not published")
	}
	if len(broker.unsubscribed) != 1 {
		t.Errorf("unsubscribed = %v, want the command topic", broker.unsubscribed)
	}
}

func TestRelay_RunStopsWhenChannelCloses(t *testing.T) {
	r := New(&fakeFleet{}, Config{}, Options{})
	notifications := make(chan coordinator.Notification)
	close(notifications)

	if err := r.Run(context.Background(), notifications); err != nil {
		t.Errorf("Run() = %v", err)
	}
}

func TestRelay_Commands(t *testing.T) {
	tests := []struct {
		name      string
		topic     string
		payload   string
		fleetErr  error
		wantErr   error
		wantSpeed int
	}{
		{name: "speed", topic: "atomberg/device/fan-1/command", payload: `{"speed":3}`, wantSpeed: 3},
		{name: "light", topic: "atomberg/device/fan-1/command", payload: `{"led":true,"brightness":40,"light_mode":"warm"}`},
		{name: "unknown key", topic: "atomberg/device/fan-1/command", payload: `{"turbo":true}`, wantErr: device.ErrInvalidValue},
		{name: "empty", topic: "atomberg/device/fan-1/command", payload: `{}`, wantErr: device.ErrInvalidValue},
		{name: "not json", topic: "atomberg/device/fan-1/command", payload: `on`, wantErr: device.ErrInvalidValue},
		{name: "wrong kind", topic: "atomberg/device/fan-1/state", payload: `{"power":true}`, wantErr: ErrBadCommand},
		{name: "unknown device", topic: "atomberg/device/ghost/command", payload: `{"power":true}`,
			fleetErr: device.ErrDeviceNotFound, wantErr: device.ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fleet := &fakeFleet{err: tt.fleetErr}
			r := New(fleet, Config{}, Options{})

			err := r.handleCommand(context.Background(), tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("handleCommand() = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if len(fleet.executed) != 0 {
					t.Errorf("command executed despite error: %+v", fleet.executed)
				}
				return
			}
			if len(fleet.executed) != 1 || fleet.executed[0].deviceID != "fan-1" {
				t.Fatalf("executed = %+v", fleet.executed)
			}
			if tt.wantSpeed != 0 && *fleet.executed[0].cmd.Speed != tt.wantSpeed {
				t.Errorf("speed = %d, want %d", *fleet.executed[0].cmd.Speed, tt.wantSpeed)
			}
		})
	}
}

func TestRelay_CommandThroughBroker(t *testing.T) {
	broker := newFakeBroker()
	fleet := &fakeFleet{}
	r := New(fleet, Config{StatusInterval: time.Hour}, Options{Broker: broker})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan coordinator.Notification)) }()
	<-broker.subscribed

	if err := broker.deliver("atomberg/device/fan-3/command", []byte(`{"timer":2}`)); err != nil {
		t.Fatalf("deliver() = %v", err)
	}
	fleet.mu.Lock()
	got := fleet.executed
	fleet.mu.Unlock()
	if len(got) != 1 || got[0].deviceID != "fan-3" || got[0].cmd.Timer == nil || *got[0].cmd.Timer != 2 {
		t.Errorf("executed = %+v", got)
	}

	cancel()
	<-done
}
