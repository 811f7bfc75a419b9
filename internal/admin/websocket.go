package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-persist/internal/persist"
)

// Stream message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Channels are "persist.{kind}", plus the wildcard ChannelAll.
const (
	ChannelPrefix = "persist."
	ChannelAll    = ChannelPrefix + "*"

	clientQueueSize = 256
)

// streamChannels lists every channel a client may subscribe to.
var streamChannels = map[string]bool{
	ChannelAll: true,
	ChannelPrefix + string(persist.EventBegin):    true,
	ChannelPrefix + string(persist.EventPersist):  true,
	ChannelPrefix + string(persist.EventCommit):   true,
	ChannelPrefix + string(persist.EventRollback): true,
	ChannelPrefix + string(persist.EventQuery):    true,
}

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest decodes inbound frames; the payload is parsed per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	// Clients authenticate with a single-use ticket, not cookies.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans persist events out to WebSocket clients. It implements
// persist.Observer; a client whose queue is full misses the event.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx ends and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnEvent implements persist.Observer.
func (h *Hub) OnEvent(ev persist.Event) {
	channel := ChannelPrefix + string(ev.Kind)

	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	frame, err := encodeFrame(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Payload:   mqtt.NewEventMessage(ev),
	})
	if err != nil {
		h.logger.Error("encoding stream event", "error", err)
		return
	}
	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.stop()
	h.logger.Debug("stream client disconnected", "subject", c.subject, "clients", n)
}

// streamClient is one WebSocket connection. The send queue is never closed;
// done signals the writer to exit.
type streamClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	channels map[string]bool
}

// handleWebSocket upgrades a request carrying a ticket from POST /ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	subject, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		hub:      s.hub,
		conn:     conn,
		subject:  subject,
		send:     make(chan []byte, clientQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]bool),
	}
	s.hub.add(c)

	pingEvery := time.Duration(s.cfg.WebSocket.PingInterval) * time.Second
	pongWait := time.Duration(s.cfg.WebSocket.PongTimeout) * time.Second
	go c.writeLoop(pingEvery, pongWait)
	go c.readLoop(int64(s.cfg.WebSocket.MaxMessageSize), pingEvery+pongWait)
}

// stop closes the connection once; both loops then exit.
func (c *streamClient) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.conn.Close() //nolint:errcheck // teardown
	})
}

func (c *streamClient) readLoop(limit int64, idle time.Duration) {
	defer c.hub.remove(c)

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	c.conn.SetReadLimit(limit)
	extend() //nolint:errcheck // read fails if the deadline cannot be set
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read failed", "subject", c.subject, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // see above
		c.dispatch(data)
	}
}

func (c *streamClient) writeLoop(pingEvery, writeWait time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			err = write(websocket.TextMessage, frame)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			c.stop()
			return
		}
	}
}

// dispatch handles one inbound frame.
func (c *streamClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.subscribe(req)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

func (c *streamClient) subscribe(req wsRequest) {
	var body WSSubscribePayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &body); err != nil {
			c.reply(req.ID, WSTypeError, errorBody("invalid "+req.Type+" payload"))
			return
		}
	}
	if len(body.Channels) == 0 {
		c.reply(req.ID, WSTypeError, errorBody("channels must not be empty"))
		return
	}
	for _, ch := range body.Channels {
		if !streamChannels[ch] {
			c.reply(req.ID, WSTypeError, errorBody("unknown channel: "+ch))
			return
		}
	}

	on := req.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range body.Channels {
		if on {
			c.channels[ch] = true
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if on {
		key = "subscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string][]string{key: body.Channels})
}

func (c *streamClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel] || c.channels[ChannelAll]
}

// enqueue drops frame when the client is gone or its queue is full.
func (c *streamClient) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
	}
}

func (c *streamClient) reply(id, msgType string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// encodeFrame stamps msg with the current time and marshals it.
func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	return json.Marshal(msg)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}

var _ persist.Observer = (*Hub)(nil)
