package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rcourtman/buttonclicker/internal/entitlements"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Message types sent to clients.
const (
	TypeWelcome      = "welcome"
	TypeInitialState = "initialState"
	TypeEntitlements = "entitlements"
	TypePong         = "pong"
	TypeError        = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024 * 4,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts requests without an Origin header and same-host origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// StateFunc returns the snapshot sent to new clients.
type StateFunc func(ctx context.Context) (entitlements.Record, error)

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub maintains active WebSocket clients and pushes entitlement snapshots to
// them. It satisfies the reconciler's Listener.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	getState   StateFunc

	revMu        sync.Mutex
	lastRevision uint64
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewHub creates a new WebSocket hub
func NewHub(getState StateFunc) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		getState:   getState,
	}
}

// Run starts the hub's main loop and returns when ctx is done. A hub runs
// at most once.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Str("client", client.id).Msg("WebSocket client connected")
			h.greet(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.mu.Unlock()
				log.Info().Str("client", client.id).Msg("WebSocket client disconnected")
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it rather than block the hub.
					delete(h.clients, client)
					close(client.send)
					log.Warn().Str("client", client.id).Msg("WebSocket client send buffer full; disconnecting")
				}
			}
			h.mu.Unlock()
		}
	}
}

// greet queues the welcome message and the current snapshot for a new client.
func (h *Hub) greet(ctx context.Context, client *Client) {
	client.queue(Message{Type: TypeWelcome, Data: map[string]string{"client": client.id}})
	if h.getState == nil {
		return
	}
	rec, err := h.getState(ctx)
	if err != nil {
		log.Debug().Err(err).Str("client", client.id).Msg("No entitlement state for new client")
		client.queue(Message{Type: TypeError, Data: map[string]string{"error": err.Error()}})
		return
	}
	client.queue(Message{Type: TypeInitialState, Data: rec})
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
		id:   uuid.NewString(),
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

// OnEntitlementsChanged broadcasts rec to all clients. A snapshot older than
// one already broadcast is dropped; unrevisioned records always go out.
func (h *Hub) OnEntitlementsChanged(rec entitlements.Record) {
	h.revMu.Lock()
	defer h.revMu.Unlock()
	if rec.Revision != 0 {
		if rec.Revision <= h.lastRevision {
			log.Debug().
				Uint64("revision", rec.Revision).
				Uint64("latest", h.lastRevision).
				Msg("Dropping out-of-order entitlement snapshot")
			return
		}
		h.lastRevision = rec.Revision
	}
	h.broadcastMessage(Message{Type: TypeEntitlements, Data: rec})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Warn().Msg("WebSocket broadcast channel full")
	}
}

// queue sends msg without blocking. Called from the hub goroutine only, while
// the client is registered.
func (c *Client) queue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("client", c.id).Str("type", msg.Type).Msg("Client send buffer full, dropping message")
	}
}

// readPump handles incoming messages from the client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Failed to unmarshal WebSocket message")
			continue
		}

		var reply Message
		switch msg.Type {
		case "ping":
			reply = Message{Type: TypePong, Data: map[string]int64{"timestamp": time.Now().Unix()}}
		case "requestData":
			if c.hub.getState == nil {
				continue
			}
			rec, err := c.hub.getState(context.Background())
			if err != nil {
				reply = Message{Type: TypeError, Data: map[string]string{"error": err.Error()}}
			} else {
				reply = Message{Type: TypeEntitlements, Data: rec}
			}
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Received WebSocket message")
			continue
		}
		c.reply(reply)
	}
}

// reply routes a direct response through the hub so it cannot race a close of
// the send channel.
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump handles outgoing messages to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
