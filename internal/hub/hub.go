// Package hub tracks the websocket connections subscribed to each event
// occurrence and broadcasts attendance pushes to them.  Change events
// arriving from the message broker go through here too, so a push reaches
// kiosks connected to any server instance.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rollcall-app/rollcall/internal/model"
)

// Client is one subscribed connection.  Writes are serialized per
// connection; gorilla/websocket allows only one concurrent writer.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Write sends one marshalled frame on the connection.
func (c *Client) Write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is the per-occurrence connection registry.
type Hub struct {
	mu      sync.RWMutex
	clients map[model.OccurrenceKey]map[*Client]struct{}
}

// New returns an empty hub.
func New() *Hub {
	return &Hub{clients: make(map[model.OccurrenceKey]map[*Client]struct{})}
}

// Register subscribes a connection to an occurrence and returns its
// client handle.
func (h *Hub) Register(occ model.OccurrenceKey, conn *websocket.Conn) *Client {
	client := &Client{conn: conn}
	h.mu.Lock()
	set, ok := h.clients[occ]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[occ] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()
	return client
}

// Unregister removes a connection; empty occurrence sets are dropped.
func (h *Hub) Unregister(occ model.OccurrenceKey, client *Client) {
	h.mu.Lock()
	if set, ok := h.clients[occ]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, occ)
		}
	}
	h.mu.Unlock()
}

// Subscribers reports how many connections watch an occurrence.
func (h *Hub) Subscribers(occ model.OccurrenceKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[occ])
}

// pushFrame is the server->client push envelope; its JSON shape matches
// the channel client's frame decoding.
type pushFrame struct {
	Type string      `json:"type"`
	Push *model.Push `json:"push"`
}

// Broadcast sends a push to every connection subscribed to its
// occurrence.  A failed write only logs; the connection's own read loop
// notices the broken pipe and cleans up.
func (h *Hub) Broadcast(push model.Push) {
	payload, err := json.Marshal(pushFrame{Type: "push", Push: &push})
	if err != nil {
		log.Printf("hub: marshal push failed: %v", err)
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[push.Key()]))
	for client := range h.clients[push.Key()] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()
	for _, client := range targets {
		if err := client.Write(payload); err != nil {
			log.Printf("hub: write to subscriber failed: %v", err)
		}
	}
}
