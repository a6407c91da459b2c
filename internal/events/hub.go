// Package events fans cache and sync activity out to websocket dashboards.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/event-companion/backend/internal/apierr"
	"github.com/onnwee/event-companion/backend/internal/logger"
	"github.com/onnwee/event-companion/backend/internal/metrics"
)

const log = logger.Component("events")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // must be less than pongWait
	maxMessageSize = 512
	sendBuffer     = 64
)

// Event types.
const (
	TypeConnected       = "connected"
	TypeCacheEvicted    = "cache.evicted"
	TypeCacheCleared    = "cache.cleared"
	TypeSyncStarted     = "sync.started"
	TypeSyncFinished    = "sync.finished"
	TypeSyncTaskDropped = "sync.task_dropped"
)

// Event is one message on the wire.
type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the diagnostics API listens on a local address only
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// registered is closed once Run has added the client.
	registered chan struct{}
}

// Hub tracks websocket clients and broadcasts events to them. Run must be
// running for registration and delivery to make progress.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	now        func() time.Time
	mu         sync.RWMutex
}

// NewHub creates an idle hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			close(c.registered)
			metrics.WebSocketConnections.Inc()
			log.Logger().Info("Dashboard connected", "total_clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				log.Logger().Info("Dashboard disconnected", "total_clients", len(h.clients))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			sent := 0
			for c := range h.clients {
				select {
				case c.send <- msg:
					sent++
				default:
					// slow consumer
					h.drop(c)
				}
			}
			h.mu.Unlock()
			metrics.WebSocketMessagesSent.Add(float64(sent))
		}
	}
}

// drop removes c; caller holds mu.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketConnections.Dec()
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues an event for every client. It never blocks; events are
// dropped when the broadcast buffer is full or the hub has stopped.
func (h *Hub) Publish(typ string, payload any) {
	data, err := json.Marshal(Event{Type: typ, At: h.now().UTC(), Payload: payload})
	if err != nil {
		log.Logger().Error("Failed to marshal event", "type", typ, "error", err)
		return
	}
	select {
	case <-h.done:
	case h.broadcast <- data:
	default:
		log.Logger().Warn("Event buffer full, dropping event", "type", typ)
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Event stream is shut down"))
		return
	default:
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		log.Ctx(r.Context()).Warn("WebSocket upgrade failed", "error", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), registered: make(chan struct{})}
	// the greeting is queued before registration so it precedes any broadcast
	if data, err := json.Marshal(Event{Type: TypeConnected, At: h.now().UTC()}); err == nil {
		c.send <- data
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	<-c.registered

	go c.writePump()
	go c.readPump()
}

// readPump discards client messages and detects disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Logger().Warn("WebSocket unexpected close", "error", err)
			}
			return
		}
	}
}

// writePump sends one event per text frame and pings idle connections.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
