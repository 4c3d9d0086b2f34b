package client

import (
	"context"
	"sync"
)

// RoomCoordinator reconciles a declared desired room set against the
// transport's actual membership. The transport forgets every membership on
// disconnect, so joins are re-issued whenever the connection epoch moves,
// the desired set changes, or the connection first comes up. Joins are
// idempotent and commutative, so concurrent reconciles need no mutual
// exclusion beyond the bookkeeping lock.
//
// Two scopes share the one physical connection. The Ambient scope (the
// conversation-list screen) owns the desired set. Focused scopes (detail
// screens) only attach listeners; their teardown never emits a room leave,
// because a leave would evict the Ambient scope's membership too.
type RoomCoordinator struct {
	cm *ConnectionManager

	mu          sync.Mutex
	desired     map[string]struct{}
	joined      map[string]struct{}
	joinedEpoch int
	focused     map[string]int

	connSub *Subscription
}

func NewRoomCoordinator(cm *ConnectionManager) *RoomCoordinator {
	c := &RoomCoordinator{
		cm:      cm,
		desired: make(map[string]struct{}),
		joined:  make(map[string]struct{}),
		focused: make(map[string]int),
	}
	c.connSub = cm.OnConnected(func(int) {
		// Reconnect detected: membership is gone, rejoin everything.
		go c.Reconcile(context.Background())
	})
	return c
}

// Close detaches the coordinator from connection events. It does not leave
// any rooms; membership dies with the connection.
func (c *RoomCoordinator) Close() {
	c.connSub.Cancel()
}

// SetDesiredRooms declares the full set of rooms the user belongs to and
// reconciles immediately.
func (c *RoomCoordinator) SetDesiredRooms(ctx context.Context, eventIDs []string) {
	c.mu.Lock()
	c.desired = make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		c.desired[id] = struct{}{}
	}
	c.mu.Unlock()

	c.Reconcile(ctx)
}

// DesiredRooms returns the declared set.
func (c *RoomCoordinator) DesiredRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.desired))
	for id := range c.desired {
		ids = append(ids, id)
	}
	return ids
}

// Reconcile diffs the wanted membership (desired set plus focused rooms)
// against actual membership and issues the missing joins, and leaves for
// rooms no longer wanted by either scope. Focused rooms count as wanted so
// a detail screen open across a reconnect gets its room rejoined even when
// the ambient set never contained it. A join denied by authorization is
// recoverable: it is logged, chat stays disabled for that room, and the
// other rooms are unaffected.
func (c *RoomCoordinator) Reconcile(ctx context.Context) {
	if c.cm.State() != StateConnected {
		return
	}
	epoch := c.cm.Epoch()

	c.mu.Lock()
	if epoch != c.joinedEpoch {
		// New physical connection: the transport remembers nothing.
		c.joined = make(map[string]struct{})
		c.joinedEpoch = epoch
	}
	wanted := make(map[string]struct{}, len(c.desired)+len(c.focused))
	for id := range c.desired {
		wanted[id] = struct{}{}
	}
	for id, refs := range c.focused {
		if refs > 0 {
			wanted[id] = struct{}{}
		}
	}
	var toJoin, toLeave []string
	for id := range wanted {
		if _, ok := c.joined[id]; !ok {
			toJoin = append(toJoin, id)
		}
	}
	for id := range c.joined {
		if _, ok := wanted[id]; !ok {
			toLeave = append(toLeave, id)
		}
	}
	c.mu.Unlock()

	for _, id := range toJoin {
		if err := c.cm.JoinEventChat(ctx, id); err != nil {
			c.cm.cfg.Logger.Warn("join failed", "event_id", id, "error", err)
			continue
		}
		c.markJoined(epoch, id)
	}
	for _, id := range toLeave {
		if err := c.cm.LeaveEventChat(ctx, id); err != nil {
			c.cm.cfg.Logger.Warn("leave failed", "event_id", id, "error", err)
			continue
		}
		c.mu.Lock()
		delete(c.joined, id)
		c.mu.Unlock()
	}
}

func (c *RoomCoordinator) markJoined(epoch int, eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A reconnect during the join races the bookkeeping; the next
	// reconcile re-joins from scratch, so only record for the same epoch.
	if epoch == c.joinedEpoch {
		c.joined[eventID] = struct{}{}
	}
}

// FocusHandlers are the listeners a detail screen attaches to its room.
type FocusHandlers struct {
	OnMessage func(MessageEvent)
	OnTyping  func(TypingEvent)
}

// Focus is a focused scope for one room: a join (redundant with Ambient,
// which is fine) plus listener registrations. Closing it removes only its
// own listeners.
type Focus struct {
	coordinator *RoomCoordinator
	eventID     string
	subs        []*Subscription
	once        sync.Once
}

// Focus activates a focused scope on a room: it joins the room and attaches
// the given listeners. The join may be redundant with the Ambient scope;
// joins are idempotent so that is harmless.
func (c *RoomCoordinator) Focus(ctx context.Context, eventID string, handlers FocusHandlers) (*Focus, error) {
	c.mu.Lock()
	c.focused[eventID]++
	c.mu.Unlock()

	if err := c.cm.JoinEventChat(ctx, eventID); err != nil {
		c.mu.Lock()
		c.focused[eventID]--
		if c.focused[eventID] == 0 {
			delete(c.focused, eventID)
		}
		c.mu.Unlock()
		return nil, err
	}
	c.markJoined(c.cm.Epoch(), eventID)

	f := &Focus{coordinator: c, eventID: eventID}
	if handlers.OnMessage != nil {
		f.subs = append(f.subs, c.cm.OnMessage(eventID, handlers.OnMessage))
	}
	if handlers.OnTyping != nil {
		f.subs = append(f.subs, c.cm.OnTyping(eventID, handlers.OnTyping))
	}
	return f, nil
}

// Close deactivates the focused scope: it cancels this scope's listeners
// and nothing more. It never emits a room leave. Membership is
// connection-scoped and shared with the ambient scope, and an erroneous
// leave here would silently stop live updates for the list screen.
func (f *Focus) Close() {
	f.once.Do(func() {
		for _, sub := range f.subs {
			sub.Cancel()
		}
		c := f.coordinator
		c.mu.Lock()
		c.focused[f.eventID]--
		if c.focused[f.eventID] <= 0 {
			delete(c.focused, f.eventID)
		}
		c.mu.Unlock()
	})
}
