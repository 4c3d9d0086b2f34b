package client

import (
	"context"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

const seenMessageTTL = 10 * time.Minute

// ReadMarkerStore persists the per-room last-read watermark. The SDK's REST
// client satisfies it.
type ReadMarkerStore interface {
	MarkRead(ctx context.Context, eventID string) (lastReadAt int64, err error)
}

// RoomState is the tracker's view of one room.
type RoomState struct {
	Title       string
	Unread      int
	LastMessage *MessagePreview
}

// UnreadTracker derives per-room unread counts from the server snapshot
// plus live message events. Counting is driven by message identity, not by
// membership events, so duplicate joins and re-subscribes after reconnect
// never double-count; the persisted read marker stays the source of truth
// that any count can be recomputed from.
type UnreadTracker struct {
	selfID  string
	markers ReadMarkerStore

	mu     sync.RWMutex
	rooms  map[string]*RoomState
	active string

	// seen remembers recently counted message IDs to absorb redeliveries.
	seen geche.Geche[string, struct{}]

	sub *Subscription
}

// NewUnreadTracker wires the tracker to the connection's ambient message
// stream. ctx bounds the lifetime of the dedupe cache janitor.
func NewUnreadTracker(ctx context.Context, cm *ConnectionManager, markers ReadMarkerStore, selfID string) *UnreadTracker {
	t := &UnreadTracker{
		selfID:  selfID,
		markers: markers,
		rooms:   make(map[string]*RoomState),
		seen:    geche.NewMapTTLCache[string, struct{}](ctx, seenMessageTTL, time.Minute),
	}
	t.sub = cm.OnMessage("", t.handleMessage)
	return t
}

// Close detaches the tracker's message listener.
func (t *UnreadTracker) Close() {
	t.sub.Cancel()
}

// Seed replaces local state with the server-computed snapshot fetched
// alongside the room list.
func (t *UnreadTracker) Seed(rooms []RoomSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rooms = make(map[string]*RoomState, len(rooms))
	for _, room := range rooms {
		t.rooms[room.EventID] = &RoomState{
			Title:       room.Title,
			Unread:      room.UnreadCount,
			LastMessage: room.LastMessage,
		}
	}
}

func (t *UnreadTracker) handleMessage(ev MessageEvent) {
	if _, err := t.seen.Get(ev.Message.ID); err == nil {
		return
	}
	t.seen.Set(ev.Message.ID, struct{}{})

	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[ev.EventID]
	if !ok {
		room = &RoomState{}
		t.rooms[ev.EventID] = room
	}
	room.LastMessage = &MessagePreview{
		Text:       ev.Message.Text,
		SenderID:   ev.Message.SenderID,
		SenderName: ev.Message.SenderName,
		SentAt:     ev.Message.SentAt,
	}

	// The sender already sees their own message via optimistic local state,
	// and the focused room is being read as messages arrive.
	if ev.Message.SenderID == t.selfID || ev.EventID == t.active {
		return
	}
	room.Unread++
}

// SetActiveRoom marks the room currently open in a detail screen; its live
// messages stop counting as unread. An empty ID clears it.
func (t *UnreadTracker) SetActiveRoom(eventID string) {
	t.mu.Lock()
	t.active = eventID
	t.mu.Unlock()
}

// MarkRead zeroes the room locally and persists lastReadAt = now, so every
// message up to this instant stays read across re-fetches.
func (t *UnreadTracker) MarkRead(ctx context.Context, eventID string) error {
	t.mu.Lock()
	if room, ok := t.rooms[eventID]; ok {
		room.Unread = 0
	}
	t.mu.Unlock()

	_, err := t.markers.MarkRead(ctx, eventID)
	return err
}

// Unread returns the current count for one room.
func (t *UnreadTracker) Unread(eventID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if room, ok := t.rooms[eventID]; ok {
		return room.Unread
	}
	return 0
}

// TotalUnread sums unread counts across rooms (for the app badge).
func (t *UnreadTracker) TotalUnread() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, room := range t.rooms {
		total += room.Unread
	}
	return total
}

// Rooms returns a copy of the tracked state keyed by event ID.
func (t *UnreadTracker) Rooms() map[string]RoomState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rooms := make(map[string]RoomState, len(t.rooms))
	for id, room := range t.rooms {
		state := *room
		if room.LastMessage != nil {
			preview := *room.LastMessage
			state.LastMessage = &preview
		}
		rooms[id] = state
	}
	return rooms
}
