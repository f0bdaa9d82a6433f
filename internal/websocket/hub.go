package websocket

import (
	"encoding/json"
	"sync"

	"netyora-chat/internal/events"
	"netyora-chat/internal/metrics"

	"go.uber.org/zap"
)

// Hub tracks the connections of this process by user and by chat room and
// delivers envelopes to them. It implements events.Sink.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	users   map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	metrics *metrics.Metrics
	logger  *Logger
}

func NewHub(m *metrics.Metrics, logger *Logger) *Hub {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[string]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		metrics: m,
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	addMember(h.users, c.UserID, c)
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
}

// Unregister drops c from every room and closes its send queue. It reports
// false when c was already gone.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c.ID)
	removeMember(h.users, c.UserID, c)
	for room := range c.rooms {
		removeMember(h.rooms, room, c)
	}
	h.mu.Unlock()

	c.closeSend()
	h.metrics.ConnectionClosed()
	return true
}

func (h *Hub) Join(c *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	addMember(h.rooms, chatID, c)
	c.rooms[chatID] = struct{}{}
}

func (h *Hub) Leave(c *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removeMember(h.rooms, chatID, c)
	delete(c.rooms, chatID)
}

// InRoom reports whether c has joined chatID.
func (h *Hub) InRoom(c *Client, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[chatID]
	return ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// Deliver writes env to every local connection it addresses. Advisory events
// are dropped for connections whose queue is full; any other event
// disconnects such a connection instead of being lost.
func (h *Hub) Deliver(env events.Envelope) {
	frame, err := env.Frame()
	if err != nil {
		h.logger.Error(env.Type, env.UserID, "", err)
		return
	}

	h.mu.RLock()
	var targets []*Client
	switch {
	case env.Broadcast:
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	case env.Room != "":
		targets = members(h.rooms[env.Room])
	case env.UserID != "":
		targets = members(h.users[env.UserID])
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, c := range targets {
		if env.ExceptUser != "" && c.UserID == env.ExceptUser {
			continue
		}
		if c.enqueue(frame) {
			continue
		}
		if env.Advisory {
			h.metrics.RealtimeDrop("advisory")
			continue
		}
		slow = append(slow, c)
	}
	h.metrics.RealtimeEvent(env.Type)

	for _, c := range slow {
		h.metrics.RealtimeDrop("slow_consumer")
		h.logger.Warn(env.Type, c.UserID, c.ID, zap.String("reason", "send queue full"))
		c.Kick()
	}

	if env.Type == events.TypeLeftChat && env.Room != "" {
		h.evict(env)
	}
}

// evict drops the departed member's connections from the room so later room
// traffic no longer reaches them.
func (h *Hub) evict(env events.Envelope) {
	var p events.MembershipPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.UserID == "" {
		h.logger.Warn(env.Type, p.UserID, "", zap.String("reason", "membership payload unreadable"))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[p.UserID] {
		removeMember(h.rooms, env.Room, c)
		delete(c.rooms, env.Room)
	}
}

func addMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func removeMember(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

func members(set map[*Client]struct{}) []*Client {
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
