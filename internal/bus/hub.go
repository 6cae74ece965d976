// Package bus fans engine events out to WebSocket clients. A single
// Run loop owns client registration and broadcast order, so every
// client observes the same event sequence.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/deskmind-ai/deskmind/internal/event"
)

// Hub maintains the set of connected clients and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// replay returns the events a freshly connected client must see
	// before any subsequent broadcast (the attached-screenshot list).
	replay func() []event.Event

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. replay may be nil when there is no
// connection-time state to send.
func NewHub(ctx context.Context, logger *slog.Logger, replay func() []event.Event) *Hub {
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		replay:     replay,
		logger:     logger.With("component", "bus"),
		ctx:        hubCtx,
		cancel:     cancel,
	}
}

// Run processes registration and broadcast requests until the hub
// context is cancelled. All clients see broadcasts in the order this
// loop dequeues them.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.sendReplay(client)
			h.logger.Debug("client connected", "clients", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "clients", h.ClientCount())

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full: drop the client rather than stall
					// or reorder the stream for everyone else.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropping slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendReplay(client *Client) {
	if h.replay == nil {
		return
	}
	for _, e := range h.replay() {
		data, err := event.Marshal(e)
		if err != nil {
			h.logger.Error("marshal replay event", "type", e.EventType(), "error", err)
			continue
		}
		select {
		case client.send <- data:
		default:
			return
		}
	}
}

// Stop cancels the run loop and closes every client.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Publish broadcasts one event to all clients. It implements
// event.Publisher.
func (h *Hub) Publish(e event.Event) {
	data, err := event.Marshal(e)
	if err != nil {
		h.logger.Error("marshal event", "type", e.EventType(), "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register attaches a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
	}
}
