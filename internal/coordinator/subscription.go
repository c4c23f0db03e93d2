package coordinator

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dasshubham762/atomberg-integration/internal/device"
)

// Notification sources.
const (
	SourceCloud     = device.StateHistorySourceCloud
	SourceBroadcast = device.StateHistorySourceBroadcast
	SourceCommand   = device.StateHistorySourceCommand
	SourceSweep     = device.StateHistorySourceSweep
)

// DefaultBufferSize is used for subscriptions created with size <= 0.
const DefaultBufferSize = 32

// Notification reports a change of one device's merged state.
type Notification struct {
	AccountID string        `json:"account_id"`
	DeviceID  string        `json:"device_id"`
	Changed   []string      `json:"changed"`
	Device    device.Device `json:"device"`
	Source    string        `json:"source"`
}

// Subscription delivers notifications over a bounded channel. When the
// channel is full the notification is dropped for this subscriber.
type Subscription struct {
	id      string
	ch      chan Notification
	dropped atomic.Uint64
	once    sync.Once

	// fleet subscriptions belong to a Manager and outlive any one account.
	fleet bool

	mu     sync.Mutex
	owners []*Coordinator
	closed bool
}

func newSubscription(bufferSize int, fleet bool, owners ...*Coordinator) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	sub := &Subscription{
		id:    uuid.NewString(),
		ch:    make(chan Notification, bufferSize),
		fleet: fleet,
	}
	for _, c := range owners {
		sub.join(c)
	}
	return sub
}

// join starts delivery from c. It is a no-op once cancelled.
func (s *Subscription) join(c *Coordinator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	c.attach(s)
	s.owners = append(s.owners, c)
}

// leave stops delivery from c without closing the channel.
func (s *Subscription) leave(c *Coordinator) {
	s.mu.Lock()
	s.owners = slices.DeleteFunc(s.owners, func(o *Coordinator) bool { return o == c })
	s.mu.Unlock()
	c.detach(s.id)
}

// soleOwner reports whether the subscription ends with c.
func (s *Subscription) soleOwner(c *Coordinator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.fleet && len(s.owners) == 1 && s.owners[0] == c
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// C returns the notification channel. It is closed by Cancel.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Dropped returns the number of notifications lost to a full channel.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Cancel stops delivery and closes the channel. Safe to call repeatedly.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		owners := s.owners
		s.owners = nil
		s.mu.Unlock()

		for _, c := range owners {
			c.detach(s.id)
		}
		close(s.ch)
	})
}

// Subscribe returns a subscription to this account's changes.
func (c *Coordinator) Subscribe(bufferSize int) *Subscription {
	return newSubscription(bufferSize, false, c)
}

func (c *Coordinator) attach(sub *Subscription) {
	c.subsMu.Lock()
	c.subs[sub.id] = sub
	c.subsMu.Unlock()
}

func (c *Coordinator) detach(id string) {
	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
}

// notify sends the device's current state to every subscriber without
// blocking.
func (c *Coordinator) notify(id string, changed []string, source string) {
	d, err := c.registry.Get(id)
	if err != nil {
		return
	}
	n := Notification{
		AccountID: c.cfg.AccountID,
		DeviceID:  id,
		Changed:   changed,
		Device:    *d,
		Source:    source,
	}

	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, sub := range c.subs {
		select {
		case sub.ch <- n:
		default:
			sub.dropped.Add(1)
			c.logger.Warn("subscriber too slow, dropping notification",
				"subscription", sub.id, "device_id", id)
		}
	}
}
