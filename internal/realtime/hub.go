package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
	"github.com/capitalize-ai/ai-pipeline/pkg/metrics"
)

// UserRoom is the personal room of an identity.
func UserRoom(identityID string) string {
	return "user:" + identityID
}

// ConversationRoom is the room of a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// Hub tracks admitted connections and room membership. Room fan-out never
// blocks: a receiver whose buffer is full misses the event.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	rooms    map[string]map[string]*Conn
	registry Registry
	logger   *logger.Logger
}

// NewHub creates a hub backed by registry.
func NewHub(registry Registry, log *logger.Logger) *Hub {
	return &Hub{
		conns:    make(map[string]*Conn),
		rooms:    make(map[string]map[string]*Conn),
		registry: registry,
		logger:   log.Component("hub"),
	}
}

// Admit adds c, joins its personal room, records it in the registry and
// announces it to every other connection.
func (h *Hub) Admit(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.joinLocked(c, UserRoom(c.IdentityID))
	h.mu.Unlock()

	if prev, replaced := h.registry.Register(c.Entry()); replaced {
		h.logger.Debug("registry entry replaced",
			zap.String("identity_id", c.IdentityID),
			zap.String("previous_socket", prev.SocketID),
			zap.String("socket", c.ID),
		)
	}

	h.broadcastAll(mustEnvelope(model.EventUserOnline, model.PresenceEvent{UserID: c.IdentityID}), c)
}

// Remove drops c from every room. When c still owned the registry entry it
// is removed and exactly one offline event is broadcast.
func (h *Hub) Remove(c *Conn) {
	h.mu.Lock()
	_, present := h.conns[c.ID]
	delete(h.conns, c.ID)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	if !present {
		return
	}

	if h.registry.Unregister(c.IdentityID, c.ID) {
		h.broadcastAll(mustEnvelope(model.EventUserOffline, model.PresenceEvent{UserID: c.IdentityID}), c)
	}
}

// Join adds c to room.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	h.joinLocked(c, room)
}

// Leave removes c from room.
func (h *Hub) Leave(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast sends env to every member of room except the given connection.
func (h *Hub) Broadcast(room string, env model.Envelope, except *Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[room] {
		if except != nil && id == except.ID {
			continue
		}
		h.deliver(c, env)
	}
}

func (h *Hub) broadcastAll(env model.Envelope, except *Conn) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.conns {
		if except != nil && id == except.ID {
			continue
		}
		h.deliver(c, env)
	}
}

func (h *Hub) deliver(c *Conn, env model.Envelope) {
	if !c.TrySend(env) {
		metrics.BroadcastDropsTotal.Inc()
		h.logger.Debug("dropped event for slow receiver",
			zap.String("event", env.Event),
			zap.String("socket", c.ID),
		)
	}
}

// Members returns the number of connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// InRoom reports whether c is a member of room.
func (h *Hub) InRoom(c *Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c.ID]
	return ok
}

// CloseAll closes every admitted connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

func mustEnvelope(event string, payload any) model.Envelope {
	env, err := model.NewEnvelope(event, payload)
	if err != nil {
		// Payloads are plain structs of strings and numbers.
		panic(err)
	}
	return env
}
