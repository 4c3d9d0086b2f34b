package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State of the single physical connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// ConnectionManager owns the one physical socket connection per process:
// lifecycle, authentication handshake, in-flight-connect deduplication, and
// frame routing. All lifecycle state lives on this instance; there are no
// package-level sockets or flags.
type ConnectionManager struct {
	cfg  Config
	disp *dispatcher

	mu        sync.Mutex
	state     State
	transport Transport
	inflight  *connectAttempt
	writeCh   chan clientFrame
	pending   map[string]chan serverFrame
	runCancel context.CancelFunc
	// epoch increments on every successful (re)connect. Its value carries
	// no meaning beyond change detection: membership-dependent effects
	// re-subscribe when it moves.
	epoch int

	subMu     sync.Mutex
	nextSubID int
	connSubs  map[int]func(epoch int)
	dropSubs  map[int]func(err error)
}

func NewConnectionManager(cfg Config) *ConnectionManager {
	return &ConnectionManager{
		cfg:      cfg.withDefaults(),
		disp:     newDispatcher(),
		connSubs: make(map[int]func(int)),
		dropSubs: make(map[int]func(error)),
	}
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Epoch returns the reconnect counter.
func (m *ConnectionManager) Epoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Connect establishes the connection. If one is live it returns immediately;
// if an attempt is already in flight the caller waits on that attempt's
// resolution instead of dialing a second physical connection.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}

	if m.inflight != nil {
		attempt := m.inflight
		m.mu.Unlock()

		timer := time.NewTimer(m.cfg.ConnectTimeout)
		defer timer.Stop()
		select {
		case <-attempt.done:
			return attempt.err
		case <-timer.C:
			return &Error{Code: CodeTimeout, Message: "timed out waiting for in-flight connect"}
		case <-ctx.Done():
			return &Error{Code: CodeTimeout, Message: "connect cancelled", Err: ctx.Err()}
		}
	}

	attempt := &connectAttempt{done: make(chan struct{})}
	m.inflight = attempt

	// Tear down any stale, disconnected handle before dialing fresh.
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	err := m.dial(ctx)

	m.mu.Lock()
	attempt.err = err
	m.inflight = nil
	if err != nil {
		m.state = StateDisconnected
	}
	epoch := m.epoch
	m.mu.Unlock()
	close(attempt.done)

	if err == nil {
		m.notifyConnected(epoch)
	}
	return err
}

func (m *ConnectionManager) dial(ctx context.Context) error {
	if m.cfg.URL == "" {
		return &Error{Code: CodeConnection, Message: "empty URL"}
	}
	if m.cfg.Token == nil {
		return &Error{Code: CodeUnauthorized, Message: "no token provider configured"}
	}

	token, err := m.cfg.Token(ctx)
	if err != nil {
		return &Error{Code: CodeUnauthorized, Message: "failed to obtain access token", Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	transport, err := m.cfg.Dialer.DialContext(dialCtx, m.cfg.URL, header)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		if dialCtx.Err() != nil {
			return &Error{Code: CodeTimeout, Message: "connect timed out", Err: err}
		}
		return &Error{Code: CodeConnection, Message: "failed to connect", Err: err}
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.transport = transport
	m.state = StateConnected
	m.epoch++
	m.writeCh = make(chan clientFrame, 16)
	m.pending = make(map[string]chan serverFrame)
	m.runCancel = runCancel
	writeCh := m.writeCh
	m.mu.Unlock()

	go m.readLoop(runCtx, transport)
	go m.writeLoop(runCtx, transport, writeCh)

	m.cfg.Logger.Info("connected", "url", m.cfg.URL)
	return nil
}

// Disconnect is an explicit, idempotent teardown.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()
}

// teardownLocked releases the transport and fails all pending calls.
// Callers hold m.mu.
func (m *ConnectionManager) teardownLocked() {
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	for ref, ch := range m.pending {
		close(ch)
		delete(m.pending, ref)
	}
	m.state = StateDisconnected
}

func (m *ConnectionManager) readLoop(ctx context.Context, transport Transport) {
	for {
		var frame serverFrame
		if err := transport.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleTransportError(transport, err)
			return
		}

		if frame.Type == frameAck && frame.Ref != "" {
			m.mu.Lock()
			ch, ok := m.pending[frame.Ref]
			if ok {
				delete(m.pending, frame.Ref)
			}
			m.mu.Unlock()
			if ok {
				ch <- frame
			}
			continue
		}

		m.disp.dispatch(frame)
	}
}

func (m *ConnectionManager) writeLoop(ctx context.Context, transport Transport, writeCh chan clientFrame) {
	for {
		select {
		case frame := <-writeCh:
			if err := transport.WriteJSON(frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.handleTransportError(transport, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleTransportError tears down after an unexpected read/write failure.
// Only the loop owning the current transport acts; stale loops exit quietly.
func (m *ConnectionManager) handleTransportError(transport Transport, err error) {
	m.mu.Lock()
	if m.transport != transport {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.mu.Unlock()

	m.cfg.Logger.Warn("connection lost", "error", err)
	m.notifyDisconnected(err)
}

// OnConnected fires after every successful (re)connect with the new epoch.
func (m *ConnectionManager) OnConnected(fn func(epoch int)) *Subscription {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.connSubs[id] = fn
	m.subMu.Unlock()

	return &Subscription{cancel: func() {
		m.subMu.Lock()
		delete(m.connSubs, id)
		m.subMu.Unlock()
	}}
}

// OnDisconnected fires when the transport fails unexpectedly. Explicit
// Disconnect calls do not trigger it.
func (m *ConnectionManager) OnDisconnected(fn func(err error)) *Subscription {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.dropSubs[id] = fn
	m.subMu.Unlock()

	return &Subscription{cancel: func() {
		m.subMu.Lock()
		delete(m.dropSubs, id)
		m.subMu.Unlock()
	}}
}

// OnMessage subscribes to broadcast messages. An empty eventID matches every
// room (the ambient listener); a specific one scopes to that room.
func (m *ConnectionManager) OnMessage(eventID string, fn func(MessageEvent)) *Subscription {
	return m.disp.onMessage(eventID, fn)
}

func (m *ConnectionManager) OnTyping(eventID string, fn func(TypingEvent)) *Subscription {
	return m.disp.onTyping(eventID, fn)
}

func (m *ConnectionManager) OnCapacity(fn func(CapacityEvent)) *Subscription {
	return m.disp.onCapacity(fn)
}

func (m *ConnectionManager) notifyConnected(epoch int) {
	m.subMu.Lock()
	subs := make([]func(int), 0, len(m.connSubs))
	for _, fn := range m.connSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(epoch)
	}
}

func (m *ConnectionManager) notifyDisconnected(err error) {
	m.subMu.Lock()
	subs := make([]func(error), 0, len(m.dropSubs))
	for _, fn := range m.dropSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

// call sends one frame and waits for its ack.
func (m *ConnectionManager) call(ctx context.Context, frame clientFrame) (serverFrame, error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return serverFrame{}, &Error{Code: CodeNotConnected, Message: "not connected"}
	}
	ref := uuid.NewString()
	frame.Ref = ref
	ackCh := make(chan serverFrame, 1)
	m.pending[ref] = ackCh
	writeCh := m.writeCh
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		delete(m.pending, ref)
		m.mu.Unlock()
	}

	select {
	case writeCh <- frame:
	case <-ctx.Done():
		cleanup()
		return serverFrame{}, &Error{Code: CodeTimeout, Message: "send cancelled", Err: ctx.Err()}
	}

	timer := time.NewTimer(m.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ackCh:
		if !ok {
			return serverFrame{}, &Error{Code: CodeNotConnected, Message: "connection lost"}
		}
		return ack, nil
	case <-timer.C:
		cleanup()
		return serverFrame{}, &Error{Code: CodeTimeout, Message: "timed out waiting for ack"}
	case <-ctx.Done():
		cleanup()
		return serverFrame{}, &Error{Code: CodeTimeout, Message: "request cancelled", Err: ctx.Err()}
	}
}

// JoinEventChat joins a room. Joining an already-joined room is a no-op on
// the server, never an error. A denied join is recoverable: the connection
// and other rooms' membership are unaffected.
func (m *ConnectionManager) JoinEventChat(ctx context.Context, eventID string) error {
	ack, err := m.call(ctx, clientFrame{Type: frameJoinEventChat, EventID: eventID})
	if err != nil {
		return err
	}
	if !ack.Success {
		return fromFrameError(ack.Error)
	}
	return nil
}

// LeaveEventChat leaves a room. Only owners of the desired room set should
// call this; focused screens must not.
func (m *ConnectionManager) LeaveEventChat(ctx context.Context, eventID string) error {
	ack, err := m.call(ctx, clientFrame{Type: frameLeaveEventChat, EventID: eventID})
	if err != nil {
		return err
	}
	if !ack.Success {
		return fromFrameError(ack.Error)
	}
	return nil
}

// SendOptions carries the optional send fields.
type SendOptions struct {
	ReplyToID string
	ImageURL  string
}

// SendEventMessage sends a message and returns the persisted, authoritative
// copy from the ack.
func (m *ConnectionManager) SendEventMessage(ctx context.Context, eventID, text string, opts SendOptions) (Message, error) {
	ack, err := m.call(ctx, clientFrame{
		Type:      frameSendEventMessage,
		EventID:   eventID,
		Text:      text,
		ReplyToID: opts.ReplyToID,
		ImageURL:  opts.ImageURL,
	})
	if err != nil {
		return Message{}, err
	}
	if !ack.Success {
		return Message{}, fromFrameError(ack.Error)
	}
	if ack.Message == nil {
		return Message{}, &Error{Code: CodeInternal, Message: "ack missing message"}
	}
	return *ack.Message, nil
}

// GetMessageReplies returns a message and its ordered replies.
func (m *ConnectionManager) GetMessageReplies(ctx context.Context, messageID string) (Message, []Message, error) {
	ack, err := m.call(ctx, clientFrame{Type: frameGetMessageReplies, MessageID: messageID})
	if err != nil {
		return Message{}, nil, err
	}
	if !ack.Success {
		return Message{}, nil, fromFrameError(ack.Error)
	}
	if ack.OriginalMessage == nil {
		return Message{}, nil, &Error{Code: CodeInternal, Message: "ack missing message"}
	}
	return *ack.OriginalMessage, ack.Replies, nil
}

// TypingStart fires a typing signal without waiting for an ack.
func (m *ConnectionManager) TypingStart(eventID string) {
	m.fireAndForget(clientFrame{Type: frameTypingStart, EventID: eventID})
}

func (m *ConnectionManager) TypingStop(eventID string) {
	m.fireAndForget(clientFrame{Type: frameTypingStop, EventID: eventID})
}

func (m *ConnectionManager) fireAndForget(frame clientFrame) {
	m.mu.Lock()
	writeCh := m.writeCh
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected {
		return
	}
	select {
	case writeCh <- frame:
	default:
		// Typing signals are droppable.
	}
}
