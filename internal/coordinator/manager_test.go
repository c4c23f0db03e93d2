package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

func newAccount(t *testing.T, accountID string, listener *fakeListener, ids ...string) (*Coordinator, *fakeCloud) {
	t.Helper()
	fc := &fakeCloud{}
	for _, id := range ids {
		fc.snapshots = append(fc.snapshots, fanSnapshot(id, "R1"))
	}
	c, err := New(Config{AccountID: accountID, RefreshInterval: time.Hour, SweepInterval: time.Hour},
		Options{Cloud: fc, Listener: listener})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(c.Stop)
	return c, fc
}

func TestManager_LocateAndExecute(t *testing.T) {
	listener := newFakeListener()
	a, cloudA := newAccount(t, "a", listener, "fan-a1")
	b, cloudB := newAccount(t, "b", listener, "fan-b1", "fan-b2")

	m := NewManager()
	m.Add(a)
	m.Add(b)

	if got := len(m.Devices()); got != 3 {
		t.Errorf("len(Devices()) = %d, want 3", got)
	}
	c, err := m.Locate("fan-b2")
	if err != nil || c.AccountID() != "b" {
		t.Fatalf("Locate(fan-b2) = %v, %v", c, err)
	}
	if _, err := m.Locate("fan-x"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Locate(unknown) error = %v, want ErrDeviceNotFound", err)
	}

	if _, err := m.Execute(context.Background(), "fan-b1", device.Command{Power: device.Ptr(true)}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(cloudB.sentCommands()) != 1 || len(cloudA.sentCommands()) != 0 {
		t.Error("command should go through the owning account only")
	}

	statuses := m.Statuses()
	if len(statuses) != 2 || statuses[0].AccountID != "a" || statuses[1].AccountID != "b" {
		t.Errorf("Statuses() = %+v", statuses)
	}
}

func TestManager_SubscribeAcrossAccounts(t *testing.T) {
	listener := newFakeListener()
	a, _ := newAccount(t, "a", listener, "fan-a1")
	b, _ := newAccount(t, "b", listener, "fan-b1")

	m := NewManager()
	m.Add(a)
	m.Add(b)
	sub := m.Subscribe(8)

	now := time.Now()
	listener.emit(broadcastEvent("fan-a1", now))
	listener.emit(broadcastEvent("fan-b1", now))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		n := nextNotification(t, sub)
		got[n.DeviceID] = n.AccountID
	}
	if got["fan-a1"] != "a" || got["fan-b1"] != "b" {
		t.Errorf("notifications = %v", got)
	}

	// Stopping one account keeps a shared subscription open.
	if err := m.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	listener.emit(broadcastEvent("fan-b1", now.Add(time.Second)))
	select {
	case _, ok := <-sub.C():
		if !ok {
			t.Fatal("shared subscription closed by one account stopping")
		}
	default:
	}

	sub.Cancel()
	if _, ok := <-sub.C(); ok {
		t.Error("Cancel should close the channel")
	}
	if err := m.Remove("a"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("second Remove() error = %v, want ErrAccountNotFound", err)
	}
}

func TestManager_SubscriptionFollowsAddedAccounts(t *testing.T) {
	listener := newFakeListener()
	a, _ := newAccount(t, "a", listener, "fan-a1")

	m := NewManager()
	m.Add(a)
	sub := m.Subscribe(8)
	defer sub.Cancel()

	b, _ := newAccount(t, "b", listener, "fan-b1")
	m.Add(b)

	listener.emit(broadcastEvent("fan-b1", time.Now()))
	if n := nextNotification(t, sub); n.AccountID != "b" || n.DeviceID != "fan-b1" {
		t.Errorf("notification = %+v, want fan-b1 from b", n)
	}

	if err := m.Remove("b"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	listener.emit(broadcastEvent("fan-a1", time.Now().Add(2*time.Second)))
	if n := nextNotification(t, sub); n.AccountID != "a" {
		t.Errorf("notification after remove = %+v, want account a", n)
	}
}
