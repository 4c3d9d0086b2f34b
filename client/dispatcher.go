package client

import "sync"

// Subscription is a deterministic handle for one registered listener.
// Cancelling it removes exactly that listener and nothing else; in
// particular it never touches room membership.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type messageSub struct {
	eventID string // "" matches every room
	fn      func(MessageEvent)
}

type typingSub struct {
	eventID string
	fn      func(TypingEvent)
}

// dispatcher routes pushed frames to subscription callbacks.
type dispatcher struct {
	mu           sync.RWMutex
	nextID       int
	messageSubs  map[int]messageSub
	typingSubs   map[int]typingSub
	capacitySubs map[int]func(CapacityEvent)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		messageSubs:  make(map[int]messageSub),
		typingSubs:   make(map[int]typingSub),
		capacitySubs: make(map[int]func(CapacityEvent)),
	}
}

func (d *dispatcher) onMessage(eventID string, fn func(MessageEvent)) *Subscription {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.messageSubs[id] = messageSub{eventID: eventID, fn: fn}
	d.mu.Unlock()

	return &Subscription{cancel: func() {
		d.mu.Lock()
		delete(d.messageSubs, id)
		d.mu.Unlock()
	}}
}

func (d *dispatcher) onTyping(eventID string, fn func(TypingEvent)) *Subscription {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.typingSubs[id] = typingSub{eventID: eventID, fn: fn}
	d.mu.Unlock()

	return &Subscription{cancel: func() {
		d.mu.Lock()
		delete(d.typingSubs, id)
		d.mu.Unlock()
	}}
}

func (d *dispatcher) onCapacity(fn func(CapacityEvent)) *Subscription {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.capacitySubs[id] = fn
	d.mu.Unlock()

	return &Subscription{cancel: func() {
		d.mu.Lock()
		delete(d.capacitySubs, id)
		d.mu.Unlock()
	}}
}

func (d *dispatcher) dispatch(frame serverFrame) {
	switch frame.Type {
	case frameNewEventMessage:
		if frame.Message == nil {
			return
		}
		ev := MessageEvent{EventID: frame.EventID, Message: *frame.Message}
		for _, sub := range d.messageSubscribers(frame.EventID) {
			sub(ev)
		}

	case frameUserTyping, frameUserStoppedTyping:
		ev := TypingEvent{
			EventID:  frame.EventID,
			UserID:   frame.UserID,
			UserName: frame.UserName,
			Started:  frame.Type == frameUserTyping,
		}
		for _, sub := range d.typingSubscribers(frame.EventID) {
			sub(ev)
		}

	case frameRSVPUpdated:
		ev := CapacityEvent{
			EventID: frame.EventID,
			IsFull:  frame.IsFull,
			Spots:   frame.Spots,
			UserID:  frame.UserID,
		}
		if frame.RSVPCount != nil {
			ev.Going = frame.RSVPCount.Going
			ev.Interested = frame.RSVPCount.Interested
		}
		d.mu.RLock()
		subs := make([]func(CapacityEvent), 0, len(d.capacitySubs))
		for _, fn := range d.capacitySubs {
			subs = append(subs, fn)
		}
		d.mu.RUnlock()
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (d *dispatcher) messageSubscribers(eventID string) []func(MessageEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var subs []func(MessageEvent)
	for _, sub := range d.messageSubs {
		if sub.eventID == "" || sub.eventID == eventID {
			subs = append(subs, sub.fn)
		}
	}
	return subs
}

func (d *dispatcher) typingSubscribers(eventID string) []func(TypingEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var subs []func(TypingEvent)
	for _, sub := range d.typingSubs {
		if sub.eventID == "" || sub.eventID == eventID {
			subs = append(subs, sub.fn)
		}
	}
	return subs
}
