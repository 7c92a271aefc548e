// Package streaming provides real-time WebSocket streaming of pipeline progress.
package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of streaming event.
type EventType string

const (
	EventTypePhase     EventType = "phase"
	EventTypeAttempt   EventType = "attempt"
	EventTypeResult    EventType = "result"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

var allTypes = []EventType{EventTypePhase, EventTypeAttempt, EventTypeResult, EventTypeError, EventTypeHeartbeat}

// Event is a streaming event sent to clients.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ClientGauge is told how many clients are connected.
type ClientGauge interface {
	SetStreamingClients(n int)
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	upgrader  websocket.Upgrader
	heartbeat time.Duration
	gauge     ClientGauge
	log       logrus.FieldLogger
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Subscription filters. An empty request set means every request.
	subscriptions map[EventType]bool
	requests      map[string]bool
	subMu         sync.RWMutex
}

// Option configures a Hub.
type Option func(*Hub)

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) Option { return func(h *Hub) { h.heartbeat = d } }

// WithClientGauge reports the client count after every change.
func WithClientGauge(g ClientGauge) Option { return func(h *Hub) { h.gauge = g } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(h *Hub) { h.log = l } }

// NewHub creates a new streaming hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		heartbeat: 30 * time.Second,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("component", "ws")
	return h
}

// Run starts the hub's event loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.reportClients(n)
			h.log.WithField("clients", n).Info("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.reportClients(n)
			h.log.WithField("clients", n).Info("client disconnected")

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-heartbeat.C:
			h.broadcastEvent(newEvent(EventTypeHeartbeat, "", map[string]interface{}{"clients": h.ClientCount()}))
		}
	}
}

func (h *Hub) reportClients(n int) {
	if h.gauge != nil {
		h.gauge.SetStreamingClients(n)
	}
}

func (h *Hub) closeAll() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.reportClients(0)
}

func (h *Hub) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(event) {
			continue
		}

		select {
		case client.send <- data:
		default:
			// Client buffer full, close connection
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func newEvent(t EventType, requestID string, data interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		RequestID: requestID,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Broadcast sends an event to all subscribed clients. It never blocks.
func (h *Hub) Broadcast(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.log.WithField("type", event.Type).Warn("broadcast channel full, dropping event")
	}
}

// Notify publishes pipeline progress for one request.
func (h *Hub) Notify(requestID, kind string, data interface{}) {
	h.Broadcast(newEvent(EventType(kind), requestID, data))
}

// BroadcastError broadcasts an error event.
func (h *Hub) BroadcastError(requestID string, err error, context string) {
	h.Broadcast(newEvent(EventTypeError, requestID, map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles WebSocket upgrade requests. A request_id query parameter
// limits the client to that request's events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
		requests:      make(map[string]bool),
	}
	for _, t := range allTypes {
		client.subscriptions[t] = true
	}
	if id := r.URL.Query().Get("request_id"); id != "" {
		client.requests[id] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// wants checks the client's type and request filters.
func (c *Client) wants(e Event) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if !c.subscriptions[e.Type] {
		return false
	}
	if len(c.requests) == 0 || e.RequestID == "" {
		return true
	}
	return c.requests[e.RequestID]
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes subscription messages:
// {"type":"subscribe","events":["attempt"],"requests":["<id>"]}.
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type     string   `json:"type"`
		Events   []string `json:"events"`
		Requests []string `json:"requests"`
	}

	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	switch msg.Type {
	case "subscribe":
		for _, event := range msg.Events {
			c.subscriptions[EventType(event)] = true
		}
		for _, id := range msg.Requests {
			c.requests[id] = true
		}

	case "unsubscribe":
		for _, event := range msg.Events {
			delete(c.subscriptions, EventType(event))
		}
		for _, id := range msg.Requests {
			delete(c.requests, id)
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Write queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
