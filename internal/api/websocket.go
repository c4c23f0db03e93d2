package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/device"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/logging"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeSnapshot    = "snapshot"
	WSTypeCommand     = "command"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event types.
const (
	// EventStateChanged carries one coordinator notification.
	EventStateChanged = "device.state_changed"

	// EventSnapshot carries every device matching the client's filter.
	// It is sent once on connect.
	EventSnapshot = "device.snapshot"
)

const (
	wsSendBufferSize = 256
	wsCommandTimeout = 15 * time.Second
)

// WSMessage is an outbound frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is an inbound frame. The payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSFilter selects the fans a client follows. Empty lists match every fan.
type WSFilter struct {
	DeviceIDs  []string `json:"device_ids,omitempty"`
	AccountIDs []string `json:"account_ids,omitempty"`
}

// WSCommandPayload is the payload of a command frame.
type WSCommandPayload struct {
	DeviceID string          `json:"device_id"`
	Command  json.RawMessage `json:"command"`
}

// wsErrorPayload mirrors the REST error body.
type wsErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Hub tracks connected clients and fans notifications out to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	fleet   Fleet
	dropped atomic.Uint64

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one websocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	devices  map[string]struct{}
	accounts map[string]struct{}
	paused   bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is LAN-only and unauthenticated; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub serving fleet.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, fleet Fleet) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		fleet:   fleet,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// unregister removes c. The send channel is closed by whoever removes the
// client from the map, so it is closed exactly once.
func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// Publish delivers a notification to every client whose filter matches.
func (h *Hub) Publish(n coordinator.Notification) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: EventStateChanged, Payload: n})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "device_id", n.DeviceID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.follows(n.DeviceID, n.AccountID) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// handleWebSocket upgrades the request, sends the initial device snapshot
// and starts the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		devices:  make(map[string]struct{}),
		accounts: make(map[string]struct{}),
	}
	c.reply(WSMessage{Type: WSTypeEvent, EventType: EventSnapshot, Payload: c.snapshot()})
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	keepAlive := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(keepAlive)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.dispatch(data)
	}
}

func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error handled below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error handled below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame.
func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail("", ErrCodeBadRequest, "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: req.ID})
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var f WSFilter
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &f); err != nil {
				c.fail(req.ID, ErrCodeBadRequest, "invalid filter")
				return
			}
		}
		if req.Type == WSTypeSubscribe {
			c.subscribe(f)
		} else {
			c.unsubscribe(f)
		}
		c.reply(WSMessage{Type: WSTypeResponse, ID: req.ID, Payload: c.filter()})
	case WSTypeSnapshot:
		c.reply(WSMessage{Type: WSTypeResponse, ID: req.ID, Payload: c.snapshot()})
	case WSTypeCommand:
		var p WSCommandPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil || p.DeviceID == "" {
			c.fail(req.ID, ErrCodeBadRequest, "command needs device_id and command")
			return
		}
		cmd, err := device.ParseCommand(p.Command)
		if err != nil {
			c.fail(req.ID, ErrCodeBadRequest, err.Error())
			return
		}
		// Commands can take seconds on the cloud route; keep reading meanwhile.
		go c.execute(req.ID, p.DeviceID, cmd)
	default:
		c.fail(req.ID, ErrCodeBadRequest, "unknown message type: "+req.Type)
	}
}

func (c *WSClient) execute(reqID, deviceID string, cmd device.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()

	route, err := c.hub.fleet.Execute(ctx, deviceID, cmd)
	if err != nil {
		c.hub.logger.Warn("websocket command failed", "device_id", deviceID, "error", err)
		e := domainError(err)
		c.fail(reqID, e.Code, e.Message)
		return
	}

	resp := commandResponse{DeviceID: deviceID, Route: string(route)}
	if d, err := c.hub.fleet.Device(deviceID); err == nil {
		resp.Device = d
	}
	c.reply(WSMessage{Type: WSTypeResponse, ID: reqID, Payload: resp})
}

// subscribe widens the filter by f and resumes a paused stream.
func (c *WSClient) subscribe(f WSFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range f.DeviceIDs {
		c.devices[id] = struct{}{}
	}
	for _, id := range f.AccountIDs {
		c.accounts[id] = struct{}{}
	}
	c.paused = false
}

// unsubscribe removes the listed ids. An empty filter pauses the stream.
func (c *WSClient) unsubscribe(f WSFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(f.DeviceIDs) == 0 && len(f.AccountIDs) == 0 {
		c.paused = true
		return
	}
	for _, id := range f.DeviceIDs {
		delete(c.devices, id)
	}
	for _, id := range f.AccountIDs {
		delete(c.accounts, id)
	}
}

func (c *WSClient) follows(deviceID, accountID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.paused {
		return false
	}
	if len(c.devices) > 0 {
		if _, ok := c.devices[deviceID]; !ok {
			return false
		}
	}
	if len(c.accounts) > 0 {
		if _, ok := c.accounts[accountID]; !ok {
			return false
		}
	}
	return true
}

func (c *WSClient) filter() WSFilter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f := WSFilter{}
	for id := range c.devices {
		f.DeviceIDs = append(f.DeviceIDs, id)
	}
	for id := range c.accounts {
		f.AccountIDs = append(f.AccountIDs, id)
	}
	return f
}

// snapshot lists the devices the client currently follows.
func (c *WSClient) snapshot() map[string]any {
	devices := make([]device.Device, 0)
	for _, d := range c.hub.fleet.Devices() {
		if c.follows(d.ID, d.AccountID) {
			devices = append(devices, d)
		}
	}
	return map[string]any{"devices": devices, "count": len(devices)}
}

func (c *WSClient) reply(msg WSMessage) {
	data, err := encodeFrame(msg)
	if err != nil {
		c.hub.logger.Error("encoding websocket reply failed", "type", msg.Type, "error", err)
		return
	}
	c.enqueue(data)
}

func (c *WSClient) fail(reqID, code, message string) {
	c.reply(WSMessage{Type: WSTypeError, ID: reqID, Payload: wsErrorPayload{Code: code, Message: message}})
}

// enqueue never blocks. A full buffer drops the frame, and a channel
// closed by a concurrent disconnect is ignored.
func (c *WSClient) enqueue(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by unregister
	}()
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return json.Marshal(msg)
}
