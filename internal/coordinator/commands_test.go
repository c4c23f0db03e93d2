package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/broadcast"
	"github.com/dasshubham762/atomberg-integration/internal/cloud"
	"github.com/dasshubham762/atomberg-integration/internal/device"
)

func TestExecute_CloudRoute(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	sub := h.c.Subscribe(8)

	if err := h.c.SetSpeed(context.Background(), "fan-1", 4); err != nil {
		t.Fatalf("SetSpeed() error = %v", err)
	}

	sent := h.cloud.sentCommands()
	if len(sent) != 1 || sent[0].DeviceID != "fan-1" || *sent[0].Command.Speed != 4 {
		t.Fatalf("cloud commands = %+v", sent)
	}
	if h.sender.count() != 0 {
		t.Error("local sender should not be used without local control")
	}

	d, _ := h.c.Device("fan-1")
	if d.State.Speed != 4 {
		t.Errorf("speed = %d, want 4", d.State.Speed)
	}
	n := nextNotification(t, sub)
	if n.Source != SourceCommand {
		t.Errorf("Source = %s, want command", n.Source)
	}
}

func TestExecute_RejectedCommandLeavesRegistry(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	sub := h.c.Subscribe(8)
	before, _ := h.c.Device("fan-1")

	h.cloud.sendErr = fmt.Errorf("%w: HTTP 200: device offline", cloud.ErrCommandRejected)

	err := h.c.TurnOn(context.Background(), "fan-1")
	if !errors.Is(err, cloud.ErrCommandRejected) {
		t.Fatalf("TurnOn() error = %v, want ErrCommandRejected", err)
	}

	after, _ := h.c.Device("fan-1")
	if after.State.Power != before.State.Power {
		t.Error("rejected command must not change the registry")
	}
	expectNoNotification(t, sub)
}

func TestExecute_LocalRoute(t *testing.T) {
	h := newHarness(t, withLocalControl())
	h.start(t)

	// Offline with no address: cloud.
	route, err := h.c.Execute(context.Background(), "fan-1", device.Command{Power: device.Ptr(true)})
	if err != nil || route != RouteCloud {
		t.Fatalf("Execute() = %s, %v; want cloud", route, err)
	}

	h.seen("fan-1", "192.168.1.40", 0x11, true)

	route, err = h.c.Execute(context.Background(), "fan-1", device.Command{Speed: device.Ptr(3)})
	if err != nil || route != RouteLocal {
		t.Fatalf("Execute() = %s, %v; want local", route, err)
	}
	if h.sender.count() != 1 || h.sender.ips[0].String() != "192.168.1.40" {
		t.Errorf("local sends = %d to %v", h.sender.count(), h.sender.ips)
	}
	if got := len(h.cloud.sentCommands()); got != 1 {
		t.Errorf("cloud commands = %d, want 1", got)
	}
	d, _ := h.c.Device("fan-1")
	if d.State.Speed != 3 {
		t.Errorf("speed = %d, want 3", d.State.Speed)
	}
}

func TestExecute_StaleOnlineFallsBackToCloud(t *testing.T) {
	h := newHarness(t, withLocalControl())
	h.start(t)
	h.seen("fan-1", "192.168.1.40", 0x11, true)

	// No sweep has run yet, so the flag still says online.
	h.now = h.now.Add(DefaultAvailabilityTimeout + time.Second)
	if d, _ := h.c.Device("fan-1"); !d.State.Online {
		t.Fatal("fan-1 should still be flagged online before a sweep")
	}

	route, err := h.c.Execute(context.Background(), "fan-1", device.Command{Speed: device.Ptr(2)})
	if err != nil || route != RouteCloud {
		t.Fatalf("Execute() = %s, %v; want cloud for a fan silent past the window", route, err)
	}
	if h.sender.count() != 0 {
		t.Errorf("local sends = %d, want 0", h.sender.count())
	}
}

func TestExecute_LocalFailureLeavesRegistry(t *testing.T) {
	h := newHarness(t, withLocalControl())
	h.start(t)
	h.seen("fan-1", "192.168.1.40", 0x11, true)
	h.sender.err = errors.New("network unreachable")

	if err := h.c.SetSpeed(context.Background(), "fan-1", 6); !errors.Is(err, broadcast.ErrSend) {
		t.Fatalf("SetSpeed() error = %v, want ErrSend", err)
	}
	d, _ := h.c.Device("fan-1")
	if d.State.Speed != 1 {
		t.Errorf("speed = %d, want unchanged 1", d.State.Speed)
	}
}

func TestExecute_DegradedByAuth(t *testing.T) {
	h := newHarness(t, withLocalControl())
	h.start(t)
	h.cloud.setSyncErr(fmt.Errorf("%w: refresh token revoked", cloud.ErrAuth))
	h.c.Refresh(context.Background()) //nolint:errcheck // error checked through State

	err := h.c.TurnOn(context.Background(), "fan-1")
	if !errors.Is(err, cloud.ErrAuth) {
		t.Errorf("TurnOn() while degraded error = %v, want ErrAuth", err)
	}
	if got := len(h.cloud.sentCommands()); got != 0 {
		t.Errorf("cloud commands = %d, want 0", got)
	}

	// Local control still works for a fan on the LAN.
	h.seen("fan-1", "192.168.1.40", 0x01, true)
	if err := h.c.TurnOn(context.Background(), "fan-1"); err != nil {
		t.Errorf("local TurnOn() while degraded error = %v", err)
	}
}

func TestExecute_DegradedByTransportStillTriesCloud(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.cloud.setSyncErr(fmt.Errorf("%w: timeout", cloud.ErrTransport))
	h.c.Refresh(context.Background()) //nolint:errcheck // error checked through State

	if err := h.c.TurnOn(context.Background(), "fan-1"); err != nil {
		t.Errorf("TurnOn() error = %v", err)
	}
}

func TestExecute_Validation(t *testing.T) {
	tests := []struct {
		name    string
		call    func(c *Coordinator) error
		wantErr error
	}{
		{
			name:    "unknown device",
			call:    func(c *Coordinator) error { return c.TurnOn(context.Background(), "nope") },
			wantErr: device.ErrDeviceNotFound,
		},
		{
			name:    "speed too high",
			call:    func(c *Coordinator) error { return c.SetSpeed(context.Background(), "fan-1", 7) },
			wantErr: device.ErrInvalidValue,
		},
		{
			name:    "speed zero",
			call:    func(c *Coordinator) error { return c.SetSpeed(context.Background(), "fan-1", 0) },
			wantErr: device.ErrInvalidValue,
		},
		{
			name:    "timer index out of range",
			call:    func(c *Coordinator) error { return c.SetTimer(context.Background(), "fan-1", 5) },
			wantErr: device.ErrInvalidValue,
		},
		{
			name: "brightness on plain series",
			call: func(c *Coordinator) error {
				return c.SetLight(context.Background(), "fan-1", LightSettings{Brightness: device.Ptr(50)})
			},
			wantErr: device.ErrUnsupportedAttribute,
		},
		{
			name: "empty light command",
			call: func(c *Coordinator) error {
				return c.SetLight(context.Background(), "fan-2", LightSettings{})
			},
			wantErr: device.ErrInvalidValue,
		},
		{
			name: "brightness out of range",
			call: func(c *Coordinator) error {
				return c.SetLight(context.Background(), "fan-2", LightSettings{Brightness: device.Ptr(101)})
			},
			wantErr: device.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.start(t)
			if err := tt.call(h.c); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := len(h.cloud.sentCommands()); got != 0 {
				t.Errorf("cloud commands = %d, want 0", got)
			}
		})
	}
}

func TestSetLight_DropsRedundantLED(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	err := h.c.SetLight(context.Background(), "fan-2", LightSettings{
		LED:        device.Ptr(true),
		Brightness: device.Ptr(60),
		LightMode:  device.Ptr(device.LightModeCool),
	})
	if err != nil {
		t.Fatalf("SetLight() error = %v", err)
	}

	sent := h.cloud.sentCommands()
	if len(sent) != 1 {
		t.Fatalf("cloud commands = %d, want 1", len(sent))
	}
	if sent[0].Command.LED != nil {
		t.Error("led should be dropped when combined with other light attributes")
	}
	d, _ := h.c.Device("fan-2")
	if d.State.Brightness == nil || *d.State.Brightness != 60 {
		t.Errorf("brightness = %v, want 60", d.State.Brightness)
	}
}

func TestSetTimer_AppliesHours(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.c.SetTimer(context.Background(), "fan-1", 4); err != nil {
		t.Fatalf("SetTimer() error = %v", err)
	}
	sent := h.cloud.sentCommands()
	if *sent[0].Command.Timer != 4 {
		t.Errorf("sent timer = %d, want index 4", *sent[0].Command.Timer)
	}
	d, _ := h.c.Device("fan-1")
	if d.State.TimerHours != 6 {
		t.Errorf("TimerHours = %d, want 6", d.State.TimerHours)
	}
}

func TestSetSleepAndTurnOff(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.c.SetSleep(context.Background(), "fan-1", true); err != nil {
		t.Fatalf("SetSleep() error = %v", err)
	}
	if err := h.c.TurnOff(context.Background(), "fan-1"); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	d, _ := h.c.Device("fan-1")
	if !d.State.Sleep || d.State.Power {
		t.Errorf("state = %+v, want sleep on, power off", d.State)
	}
}
