package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize    = 100
	fallbackFlushSeconds = 10
)

// Client records fan telemetry in InfluxDB.
//
// Points go through the library's batching write API, so writes never block
// the relay. Failed batches are counted and reported via SetOnError. The zero
// value is an inert, disconnected client.
type Client struct {
	influx influxdb2.Client
	points api.WriteAPI
	closed atomic.Bool

	written atomic.Uint64
	failed  atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Stats counts points handed to the write API and batches it failed to write.
type Stats struct {
	Written uint64
	Failed  uint64
}

// Connect pings the server and returns a client bound to cfg.Org/cfg.Bucket.
// It returns ErrDisabled when influxdb.enabled is false.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx: influx,
		points: influx.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.drainErrors()
	return c, nil
}

// writeOptions batches by count and by time, with millisecond precision.
// Every point carries integration=atomberg.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = fallbackBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = fallbackFlushSeconds
	}
	flushMillis := time.Duration(flush) * time.Second / time.Millisecond

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flushMillis)).
		SetPrecision(time.Millisecond).
		AddDefaultTag("integration", "atomberg")
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ok, err := influx.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errUnhealthy
	}
	return nil
}

// drainErrors runs until the write API closes its error channel on Close.
func (c *Client) drainErrors() {
	for err := range c.points.Errors() {
		c.failed.Add(1)
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers a callback for failed batch writes.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// IsConnected reports whether the client was connected and not yet closed.
func (c *Client) IsConnected() bool {
	return c.influx != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb: ping: %w", err)
	}
	return nil
}

// Flush writes buffered points now.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.points.Flush()
	}
}

// Stats returns the write counters.
func (c *Client) Stats() Stats {
	return Stats{Written: c.written.Load(), Failed: c.failed.Load()}
}

// Close flushes buffered points and releases the client. Later writes are
// dropped. Safe to call more than once.
func (c *Client) Close() error {
	if c.influx == nil || c.closed.Swap(true) {
		return nil
	}
	c.points.Flush()
	c.influx.Close()
	return nil
}
