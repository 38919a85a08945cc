// Package streaming mirrors investigation event streams to WebSocket
// observers. The SSE response to the trigger surface is the primary channel;
// observers get a read-only copy of the same events, per thread.
package streaming

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
)

type threadMessage struct {
	threadID string
	data     []byte
}

// Hub manages observer connections keyed by thread ID.
type Hub struct {
	clients         map[*Client]bool
	threadObservers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan threadMessage

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates an observer hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:         make(map[*Client]bool),
		threadObservers: make(map[string]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan threadMessage, 256),
		logger:          log.WithFields(zap.String("component", "observer_hub")),
	}
}

// Run starts the hub's processing loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Observer hub started")
	defer h.logger.Info("Observer hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Register adds an observer to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes an observer from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastToThread mirrors one event to every observer of a thread. Never
// blocks: observers that cannot keep up drop events.
func (h *Hub) BroadcastToThread(threadID string, data []byte) {
	select {
	case h.broadcast <- threadMessage{threadID: threadID, data: data}:
	default:
		h.logger.Warn("Observer broadcast queue full, dropping event",
			zap.String("thread_id", threadID))
	}
}

// ObserverCount returns the number of connected observers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	if _, ok := h.threadObservers[client.threadID]; !ok {
		h.threadObservers[client.threadID] = make(map[*Client]bool)
	}
	h.threadObservers[client.threadID][client] = true

	h.logger.Debug("Observer registered",
		zap.String("client_id", client.ID),
		zap.String("thread_id", client.threadID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	if observers, ok := h.threadObservers[client.threadID]; ok {
		delete(observers, client)
		if len(observers) == 0 {
			delete(h.threadObservers, client.threadID)
		}
	}

	h.logger.Debug("Observer unregistered",
		zap.String("client_id", client.ID),
		zap.String("thread_id", client.threadID))
}

func (h *Hub) deliver(msg threadMessage) {
	h.mu.RLock()
	observers := h.threadObservers[msg.threadID]
	h.mu.RUnlock()

	for client := range observers {
		select {
		case client.send <- msg.data:
		default:
			// Buffer full, the write pump cleans the client up
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.threadObservers = make(map[string]map[*Client]bool)
}
