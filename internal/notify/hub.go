package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geoshift/geoshift/internal/engine"
)

// Client is one connected notification consumer. Send is drained by the
// transport's write pump; a full buffer drops the message rather than
// blocking the engine's event path.
type Client struct {
	Conn *websocket.Conn
	Send chan []byte
}

// NewClient wraps a websocket connection with a buffered send queue.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{Conn: conn, Send: make(chan []byte, 16)}
}

// Hub manages connected clients and broadcasts engine notification intents
// to all of them. It implements engine.Notifier.
//
// The engine calls the Notifier synchronously from its event loop, so every
// path through Hub must be non-blocking: sends to slow clients are dropped.
type Hub struct {
	now func() time.Time

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a Hub stamping events from now (nil means wall clock).
func NewHub(now func() time.Time) *Hub {
	if now == nil {
		now = time.Now
	}
	return &Hub{
		now:        now,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run owns the client set until the context is cancelled. Run as a
// goroutine next to the engine's.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("notification client connected", "clients", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			slog.Info("notification client disconnected", "clients", h.ClientCount())

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Register queues a client for registration.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister queues a client for unregistration.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	ev.At = h.now()
	message, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal notification", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			// Slow consumer: drop rather than stall the event loop.
		}
	}
}

// EnterPrompt implements engine.Notifier.
func (h *Hub) EnterPrompt(v engine.PendingView) {
	h.broadcast(Event{Type: EventEnterPrompt, Pending: &v})
}

// ExitPrompt implements engine.Notifier.
func (h *Hub) ExitPrompt(v engine.PendingView) {
	h.broadcast(Event{Type: EventExitPrompt, Pending: &v})
}

// ReturnPrompt implements engine.Notifier.
func (h *Hub) ReturnPrompt(v engine.PendingView) {
	h.broadcast(Event{Type: EventReturnPrompt, Pending: &v})
}

// PauseCountdown implements engine.Notifier.
func (h *Hub) PauseCountdown(v engine.PauseView) {
	h.broadcast(Event{Type: EventPauseCountdown, Pause: &v})
}

// PauseExpired implements engine.Notifier.
func (h *Hub) PauseExpired(v engine.PauseView) {
	h.broadcast(Event{Type: EventPauseExpired, Pause: &v})
}

// Clear implements engine.Notifier.
func (h *Hub) Clear() {
	h.broadcast(Event{Type: EventClear})
}
