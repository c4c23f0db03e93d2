package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
)

// Client is the relay's broker connection.
//
// Subscriptions are remembered and replayed on every reconnect, and the
// service presence on atomberg/system/status is refreshed each time the
// connection comes up. All methods are safe for concurrent use.
type Client struct {
	conn   pahomqtt.Client
	cfg    config.MQTTConfig
	online atomic.Bool

	mu           sync.RWMutex
	routes       map[string]route
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Logger receives connection events and handler failures.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one inbound message. Errors are logged, not retried.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits for the first session. Paho keeps
// reconnecting on its own afterwards.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, routes: make(map[string]route)}

	opts := brokerOptions(cfg).
		SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			c.log().Info("mqtt reconnecting", "client_id", cfg.Broker.ClientID)
		})

	c.conn = pahomqtt.NewClient(opts)
	if err := await(ctx, c.conn.Connect(), connectTimeout); err != nil {
		// Stop the retry loop paho started for this connect.
		c.conn.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.online.Store(true)
	return c, nil
}

// await waits for t to complete, bounded by timeout and ctx.
func await(ctx context.Context, t pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return t.Error()
	case <-timer.C:
		return fmt.Errorf("no broker ack after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) sessionUp() {
	c.online.Store(true)

	c.mu.RLock()
	for topic, r := range c.routes {
		c.conn.Subscribe(topic, r.qos, c.dispatch(r.handler))
	}
	fn := c.onConnect
	c.mu.RUnlock()

	c.conn.Publish(Topics{}.SystemStatus(), 1, true, presence(PresenceOnline, c.cfg.Broker.ClientID, ""))
	if fn != nil {
		fn()
	}
}

func (c *Client) sessionLost(err error) {
	c.online.Store(false)
	c.log().Warn("mqtt connection lost", "error", err)

	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close marks the service offline and disconnects. The retained presence
// replaces the Last Will, so subscribers see a clean shutdown.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.conn.Publish(Topics{}.SystemStatus(), 1, true, presence(PresenceOffline, c.cfg.Broker.ClientID, ReasonShutdown))
		if err := await(context.Background(), tok, ackTimeout); err != nil {
			c.log().Warn("mqtt offline presence not acknowledged", "error", err)
		}
	}
	c.conn.Disconnect(quiesceMillis)
	c.online.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is currently open.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.online.Load() && c.conn.IsConnectionOpen()
}

// SetOnConnect registers a callback for every session start, reconnects included.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for lost sessions.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// dispatch adapts h to paho. A panicking handler is logged and the
// message dropped.
func (c *Client) dispatch(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("mqtt handler panicked", "topic", topic, "panic", r)
			}
		}()
		if err := h(topic, msg.Payload()); err != nil {
			c.log().Warn("mqtt message rejected", "topic", topic, "error", err)
		}
	}
}
