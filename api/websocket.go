package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/cvmratios/internal/pipeline"
)

// WebSocket event types.
const (
	EventHello        = "hello"
	EventReloaded     = "panel_reloaded"
	EventReloadFailed = "reload_failed"
	EventPong         = "pong"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ReloadEvent describes the panel now being served.
type ReloadEvent struct {
	Source   string    `json:"source"`
	Rules    string    `json:"rules"`
	Records  int       `json:"records"`
	Entities int       `json:"entities"`
	LoadedAt time.Time `json:"loaded_at"`
}

func newReloadEvent(res *pipeline.Result) ReloadEvent {
	if res == nil || res.Panel == nil {
		return ReloadEvent{}
	}
	return ReloadEvent{
		Source:   res.Source,
		Rules:    res.Panel.Rules,
		Records:  res.Panel.Summary.Records,
		Entities: res.Panel.Summary.Entities,
		LoadedAt: res.LoadedAt,
	}
}

// upgrader accepts the configured CORS origins; "*" accepts any.
func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			origins := s.cfg.API.CORSOrigins
			return origin == "" || len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

// handleWebSocket upgrades the connection and subscribes it to panel events.
// The client first receives a hello carrying the current panel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", "err", err)
		return
	}

	client := &WSClient{
		hub:  s.wsHub,
		send: make(chan WSMessage, 16),
	}
	state, _ := s.snapshot()
	client.send <- WSMessage{Type: EventHello, Data: newReloadEvent(state)}

	s.wsHub.Register(client)

	go wsWritePump(conn, client, s.logger)
	go wsReadPump(conn, client, s.logger)
}

// wsReadPump reads client messages until the connection closes. Only
// "ping" is understood.
func wsReadPump(conn *websocket.Conn, client *WSClient, logger *slog.Logger) {
	defer func() {
		client.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("api: websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			client.trySend(WSMessage{Type: EventPong})
		}
	}
}

// wsWritePump writes hub messages and keepalive pings to the connection.
func wsWritePump(conn *websocket.Conn, client *WSClient, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("api: websocket write failed", "err", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ============================================================
// WebSocket Hub
// ============================================================

// WSHub fans panel events out to every connected client.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{} // closed when Run returns
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub  *WSHub
	mu   sync.Mutex
	done bool
	send chan WSMessage
}

// trySend queues msg unless the client is closed or its buffer is full.
func (c *WSClient) trySend(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.done = true
		close(c.send)
	}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. It closes every client when ctx is done.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.trySend(msg) {
					// Slow client; disconnect
					delete(h.clients, client)
					client.close()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients. It drops
// the message when the hub is backed up.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub. A client registered after the hub
// stopped is closed at once.
func (h *WSHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}
