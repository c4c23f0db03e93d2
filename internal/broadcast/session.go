package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultPort is the port fans broadcast their status on.
	DefaultPort = 5625

	// DefaultQueueSize is the per-subscriber event buffer.
	DefaultQueueSize = 64

	maxDatagramSize = 2048
)

// Logger defines the logging interface used by the session.
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

// Consumer receives decoded events. It runs on the subscriber's own
// goroutine and should ignore devices it does not own.
type Consumer func(Event)

// Config contains the listener settings. Port 0 binds an ephemeral port.
type Config struct {
	ListenHost string
	Port       int
	QueueSize  int
}

// Stats reports listener counters.
type Stats struct {
	Bound         bool   `json:"bound"`
	Registrations int    `json:"registrations"`
	Received      uint64 `json:"received"`
	Malformed     uint64 `json:"malformed"`
	Dropped       uint64 `json:"dropped"`
}

// Subscription is the handle of one registration.
type Subscription struct {
	key      string
	consumer Consumer
	queue    chan Event
	done     chan struct{}
	dropped  atomic.Uint64
}

// Key returns the registration key.
func (s *Subscription) Key() string { return s.key }

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Session owns the one UDP socket shared by every account.
//
// The socket is bound on Start or on the first Register and closed when
// the last registration goes away. Every datagram is delivered to every
// registration in registration order; consumers filter by device id.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Session struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	mu       sync.RWMutex
	conn     net.PacketConn
	loopDone chan struct{}
	subs     []*Subscription
	closed   bool

	received  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

// NewSession creates an unbound session.
func NewSession(cfg Config) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Session{
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// Start binds the socket if it is not bound yet.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindLocked(ctx)
}

// Addr returns the bound local address, or nil when unbound.
func (s *Session) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Session) bindLocked(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(s.cfg.ListenHost, strconv.Itoa(s.cfg.Port))
	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}

	s.conn = conn
	s.loopDone = make(chan struct{})
	go s.readLoop(conn, s.loopDone)

	s.logger.Info("listening for broadcasts", "address", conn.LocalAddr().String())
	return nil
}

// Register adds a consumer under key and returns its handle and the new
// registration count. The socket is bound if needed.
func (s *Session) Register(key string, consumer Consumer) (*Subscription, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, len(s.subs), ErrSessionClosed
	}
	for _, sub := range s.subs {
		if sub.key == key {
			return nil, len(s.subs), fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
		}
	}
	if err := s.bindLocked(context.Background()); err != nil {
		return nil, len(s.subs), err
	}

	sub := &Subscription{
		key:      key,
		consumer: consumer,
		queue:    make(chan Event, s.cfg.QueueSize),
		done:     make(chan struct{}),
	}
	s.subs = append(s.subs, sub)
	go s.dispatch(sub)

	s.logger.Debug("broadcast consumer registered", "key", key, "registrations", len(s.subs))
	return sub, len(s.subs), nil
}

// Unregister removes the consumer under key and returns the remaining
// registration count. The socket is closed when none remain.
func (s *Session) Unregister(key string) int {
	s.mu.Lock()
	idx := -1
	for i, sub := range s.subs {
		if sub.key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		n := len(s.subs)
		s.mu.Unlock()
		return n
	}

	sub := s.subs[idx]
	s.subs = append(s.subs[:idx], s.subs[idx+1:]...)
	close(sub.queue)
	remaining := len(s.subs)

	var loopDone chan struct{}
	if remaining == 0 {
		loopDone = s.unbindLocked()
	}
	s.mu.Unlock()

	<-sub.done
	if loopDone != nil {
		<-loopDone
	}
	s.logger.Debug("broadcast consumer unregistered", "key", key, "registrations", remaining)
	return remaining
}

// Stop closes the socket if no registrations remain. It is a no-op while
// any account is still registered, and safe to call repeatedly.
func (s *Session) Stop() error {
	s.mu.Lock()
	if len(s.subs) > 0 {
		n := len(s.subs)
		s.mu.Unlock()
		s.logger.Debug("broadcast session still in use", "registrations", n)
		return nil
	}
	loopDone := s.unbindLocked()
	s.mu.Unlock()

	if loopDone != nil {
		<-loopDone
	}
	return nil
}

// Close drops every registration and closes the socket. The session
// cannot be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	for _, sub := range subs {
		close(sub.queue)
	}
	loopDone := s.unbindLocked()
	s.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
	if loopDone != nil {
		<-loopDone
	}
	return nil
}

// unbindLocked closes the socket and returns the channel that is closed
// once the read loop has exited. Callers must wait on it after releasing mu.
func (s *Session) unbindLocked() chan struct{} {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("closing broadcast socket", "error", err)
	}
	s.conn = nil
	done := s.loopDone
	s.loopDone = nil
	s.logger.Info("broadcast listener stopped")
	return done
}

// Stats returns the listener counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Bound:         s.conn != nil,
		Registrations: len(s.subs),
		Received:      s.received.Load(),
		Malformed:     s.malformed.Load(),
		Dropped:       s.dropped.Load(),
	}
}

func (s *Session) readLoop(conn net.PacketConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, maxDatagramSize)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("reading broadcast", "error", err)
			continue
		}
		s.received.Add(1)

		var peer net.IP
		if udpAddr, ok := addr.(*net.UDPAddr); ok {
			peer = udpAddr.IP
		}

		ev, err := Decode(buf[:n], peer)
		if err != nil {
			s.malformed.Add(1)
			s.logger.Debug("dropping malformed datagram", "from", addr, "error", err)
			continue
		}
		ev.ReceivedAt = s.now()
		s.deliver(ev)
	}
}

// deliver hands ev to every subscriber without blocking. A full queue
// loses the event for that subscriber only.
func (s *Session) deliver(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		select {
		case sub.queue <- ev:
		default:
			sub.dropped.Add(1)
			s.dropped.Add(1)
			s.logger.Warn("subscriber queue full, dropping event", "key", sub.key, "device_id", ev.DeviceID)
		}
	}
}

func (s *Session) dispatch(sub *Subscription) {
	defer close(sub.done)
	for ev := range sub.queue {
		s.invoke(sub, ev)
	}
}

func (s *Session) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("broadcast consumer panicked", "key", sub.key, "device_id", ev.DeviceID, "panic", r)
		}
	}()
	sub.consumer(ev)
}
