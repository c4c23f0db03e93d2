package coordinator

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// Manager holds the coordinators of every configured account.
type Manager struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
	subs         []*Subscription
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{coordinators: make(map[string]*Coordinator)}
}

// Add registers a coordinator and feeds it into every open fleet
// subscription. A coordinator already registered under the same account
// id is stopped and replaced.
func (m *Manager) Add(c *Coordinator) {
	m.mu.Lock()
	prev := m.coordinators[c.AccountID()]
	m.coordinators[c.AccountID()] = c
	m.subs = slices.DeleteFunc(m.subs, (*Subscription).isClosed)
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	for _, sub := range subs {
		if prev != nil {
			sub.leave(prev)
		}
		sub.join(c)
	}
	if prev != nil && prev != c {
		prev.Stop()
	}
}

// Remove stops and forgets the coordinator of an account. Fleet
// subscriptions stay open.
func (m *Manager) Remove(accountID string) error {
	m.mu.Lock()
	c, ok := m.coordinators[accountID]
	delete(m.coordinators, accountID)
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	for _, sub := range subs {
		sub.leave(c)
	}
	c.Stop()
	return nil
}

// Get returns the coordinator of an account.
func (m *Manager) Get(accountID string) (*Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coordinators[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return c, nil
}

// Coordinators returns all coordinators sorted by account id.
func (m *Manager) Coordinators() []*Coordinator {
	m.mu.RLock()
	out := make([]*Coordinator, 0, len(m.coordinators))
	for _, c := range m.coordinators {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AccountID() < out[j].AccountID() })
	return out
}

// Statuses returns the status of every account.
func (m *Manager) Statuses() []Status {
	cs := m.Coordinators()
	out := make([]Status, len(cs))
	for i, c := range cs {
		out[i] = c.Status()
	}
	return out
}

// Devices returns the devices of every account.
func (m *Manager) Devices() []device.Device {
	var out []device.Device
	for _, c := range m.Coordinators() {
		out = append(out, c.Devices()...)
	}
	return out
}

// Locate returns the coordinator that owns a device.
func (m *Manager) Locate(deviceID string) (*Coordinator, error) {
	for _, c := range m.Coordinators() {
		if c.Owns(deviceID) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, deviceID)
}

// Device returns a device from whichever account owns it.
func (m *Manager) Device(deviceID string) (*device.Device, error) {
	c, err := m.Locate(deviceID)
	if err != nil {
		return nil, err
	}
	return c.Device(deviceID)
}

// Execute sends a command through the owning account.
func (m *Manager) Execute(ctx context.Context, deviceID string, cmd device.Command) (Route, error) {
	c, err := m.Locate(deviceID)
	if err != nil {
		return "", err
	}
	return c.Execute(ctx, deviceID, cmd)
}

// Subscribe returns one subscription fed by every coordinator, including
// ones added after the call. Removing an account does not close it.
func (m *Manager) Subscribe(bufferSize int) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := newSubscription(bufferSize, true)
	for _, c := range m.coordinators {
		sub.join(c)
	}
	m.subs = append(m.subs, sub)
	return sub
}

// StopAll stops every coordinator.
func (m *Manager) StopAll() {
	for _, c := range m.Coordinators() {
		c.Stop()
	}
}
