// Package ws implements the websocket hub (§4.6): per-room broadcasting
// where insight rooms follow the "severity:<critical|warning|info|all>"
// convention and remediation updates go to the "remediation" room. The hub is created once at startup and may be nil during
// tests, in which case Broadcast becomes a no-op.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout  = 10 * time.Second
	clientSendBuf = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// RoomAll is the catch-all room every client receiving broadcast state
// updates subscribes to; severity-scoped rooms are "severity:critical",
// "severity:warning", "severity:info".
const RoomAll = "severity:all"

// SeverityRoom maps a severity string to its room name.
func SeverityRoom(severity string) string {
	return "severity:" + severity
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	rooms map[string]bool
	mu    sync.Mutex
}

// Hub owns client registration and per-room broadcast. A single mutex
// guards room membership; sends to individual clients go through their
// own buffered channel so one slow consumer cannot block the others or
// the cycle's broadcast call (§5 "broadcast MUST NOT block the cycle on
// slow consumers").
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
}

// NewHub returns an empty hub; clients join it through HandleWebSocket.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
}

// HandleWebSocket upgrades the request and registers the connection to the
// rooms named by repeated "room" query parameters, defaulting to RoomAll.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	rooms := r.URL.Query()["room"]
	if len(rooms) == 0 {
		rooms = []string{RoomAll}
	}

	c := &client{
		conn:  conn,
		send:  make(chan []byte, clientSendBuf),
		rooms: make(map[string]bool, len(rooms)),
	}
	for _, room := range rooms {
		c.rooms[room] = true
	}

	h.register(c)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	for room := range c.rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*client]struct{})
		}
		h.rooms[room][c] = struct{}{}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		delete(h.rooms[room], c)
	}
	close(c.send)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcast sends a pre-encoded message to every client subscribed to
// room. Clients whose send buffer is full are dropped rather than
// blocking the broadcaster — a backpressure policy, not an error.
func (h *Hub) Broadcast(room string, msg []byte) {
	if h == nil {
		return
	}

	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("room", room).Msg("websocket client buffer full, dropping message")
		}
	}
}

// BroadcastJSON marshals v and broadcasts it to room, logging (never
// panicking) on a marshal failure.
func (h *Hub) BroadcastJSON(room string, v interface{}) {
	if h == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to marshal websocket broadcast payload")
		return
	}
	h.Broadcast(room, b)
}

// ClientCount reports how many sockets are subscribed to room, for
// observability/health checks.
func (h *Hub) ClientCount(room string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
