package sse

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keyfold/keyfold/internal/domain/pairing"
)

// Client represents one dashboard connection listening for session events.
type Client struct {
	ClientID    string
	OwnerRef    uuid.UUID
	ConnectedAt time.Time
	EventChan   chan pairing.Event
}

func NewClient(ownerRef uuid.UUID) *Client {
	return &Client{
		ClientID:    uuid.NewString(),
		OwnerRef:    ownerRef,
		ConnectedAt: time.Now().UTC(),
		EventChan:   make(chan pairing.Event, 16),
	}
}

// Hub fans session lifecycle events out to the owner's connected dashboards.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		close(c.EventChan)
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers the event to every client of the session owner. Slow
// clients are skipped rather than blocking the completing request.
func (h *Hub) Publish(ev pairing.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.OwnerRef != ev.OwnerRef {
			continue
		}
		select {
		case c.EventChan <- ev:
		default:
		}
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.EventChan)
		delete(h.clients, id)
	}
}
