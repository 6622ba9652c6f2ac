// Package control implements the control channel: a websocket event
// stream carrying room join/leave, chat and typing events, with
// room-scoped fan-out independent of the document sessions.
package control

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks which control clients are joined to which rooms and fans
// application events out to them. Room scope here is independent of the
// document session scope: a client may be joined to a room's control
// channel without being attached to its document session.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*Client]bool
	clients map[string]*Client // by connection id
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log:     logger.With().Str("component", "control").Logger(),
		rooms:   make(map[string]map[*Client]bool),
		clients: make(map[string]*Client),
	}
}

// Register makes a client addressable by its connection id.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

// Unregister removes a client from every room it joined.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	for roomID, clients := range h.rooms {
		if clients[c] {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()
}

// JoinRoom adds a client to a room's fan-out set.
func (h *Hub) JoinRoom(c *Client, roomID string) {
	h.mu.Lock()
	clients, ok := h.rooms[roomID]
	if !ok {
		clients = make(map[*Client]bool)
		h.rooms[roomID] = clients
	}
	clients[c] = true
	count := len(clients)
	h.mu.Unlock()

	h.log.Debug().Str("room", roomID).Int("clients", count).Msg("client joined room scope")
}

// LeaveRoom removes a client from a room's fan-out set.
func (h *Hub) LeaveRoom(c *Client, roomID string) {
	h.mu.Lock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// BroadcastRoom sends a payload to every client joined to the room,
// at most once each. excludeConn names a connection id to skip ("" for
// none). A client whose buffer is full is skipped, not retried.
func (h *Hub) BroadcastRoom(roomID, excludeConn string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if c.id == excludeConn {
			continue
		}
		c.trySend(payload)
	}
}

// SendTo delivers a payload to one client by connection id.
func (h *Hub) SendTo(connID string, payload []byte) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c != nil {
		c.trySend(payload)
	}
}
