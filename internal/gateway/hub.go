package gateway

import (
	"sync"

	"shipmate/internal/models"
)

const sessionBufferSize = 64

type session struct {
	connID string
	userID string
	send   chan models.ServerFrame
}

// Hub tracks live connections and their room memberships. Rooms are purely
// transport-scoped broadcast groups keyed by event ID: membership exists only
// while the connection is alive and has explicitly joined, and unregistering
// a connection always empties its membership.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	// Map of eventID -> set of connIDs
	rooms map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Register adds a connection and returns its outbound frame channel.
func (h *Hub) Register(connID, userID string) chan models.ServerFrame {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &session{
		connID: connID,
		userID: userID,
		send:   make(chan models.ServerFrame, sessionBufferSize),
	}
	h.sessions[connID] = s
	return s.send
}

// Unregister removes the connection from every room and closes its channel.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return
	}

	for eventID, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, eventID)
		}
	}

	close(s.send)
	delete(h.sessions, connID)
}

// Join adds the connection to a room. Joining an already-joined room is a
// no-op, never an error.
func (h *Hub) Join(connID, eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[connID]; !ok {
		return
	}

	members, ok := h.rooms[eventID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[eventID] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) Leave(connID, eventID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[eventID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, eventID)
	}
}

// InRoom reports whether the connection is currently a room member.
func (h *Hub) InRoom(connID, eventID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[eventID]
	if !ok {
		return false
	}
	_, member := members[connID]
	return member
}

// BroadcastRoom fans a frame out to every connection joined to the room.
// excludeConn skips one connection (typing events exclude the sender).
func (h *Hub) BroadcastRoom(eventID string, frame models.ServerFrame, excludeConn string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID := range h.rooms[eventID] {
		if connID == excludeConn {
			continue
		}
		s, ok := h.sessions[connID]
		if !ok {
			continue
		}
		select {
		case s.send <- frame:
		default:
			// Drop for slow consumers; clients resync over REST.
		}
	}
}

// BroadcastAll sends a frame to every live connection regardless of room
// membership. Capacity updates go this way because every listing view must
// reflect them.
func (h *Hub) BroadcastAll(frame models.ServerFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		select {
		case s.send <- frame:
		default:
		}
	}
}
