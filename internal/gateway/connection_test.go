package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shipmate/internal/auth"
	"shipmate/internal/models"
)

type mockWS struct {
	incoming  chan models.ClientFrame
	written   chan models.ServerFrame
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockWS() *mockWS {
	return &mockWS{
		incoming: make(chan models.ClientFrame),
		written:  make(chan models.ServerFrame, 16),
		closed:   make(chan struct{}),
	}
}

func (m *mockWS) ReadJSON(v interface{}) error {
	select {
	case frame, ok := <-m.incoming:
		if !ok {
			return errors.New("connection closed")
		}
		*(v.(*models.ClientFrame)) = frame
		return nil
	case <-m.closed:
		return errors.New("connection closed")
	}
}

func (m *mockWS) WriteJSON(v interface{}) error {
	select {
	case <-m.closed:
		return errors.New("connection closed")
	default:
	}
	switch frame := v.(type) {
	case *models.ServerFrame:
		m.written <- *frame
	case models.ServerFrame:
		m.written <- frame
	}
	return nil
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockWS) recv(t *testing.T) models.ServerFrame {
	t.Helper()
	select {
	case frame := <-m.written:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return models.ServerFrame{}
	}
}

func (m *mockWS) send(t *testing.T, frame models.ClientFrame) {
	t.Helper()
	select {
	case m.incoming <- frame:
	case <-time.After(time.Second):
		t.Fatal("timed out sending frame")
	}
}

func startConnection(t *testing.T) (*mockWS, *Hub, *fakeAccess, *fakeMessages, func()) {
	t.Helper()
	hub := NewHub()
	access := &fakeAccess{allowed: map[string]bool{}, missing: map[string]bool{}}
	messages := &fakeMessages{byID: map[string]models.ChatMessage{}, replies: map[string][]models.ChatMessage{}}
	svc := NewService(hub, access, messages)

	ws := newMockWS()
	conn := NewConnection(hub, svc, ws, "c1", auth.Identity{UserID: "user1", DisplayName: "Alice"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Handle(ctx) }()

	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Handle did not return")
		}
	}
	return ws, hub, access, messages, stop
}

func TestConnectionJoinAck(t *testing.T) {
	ws, hub, access, _, stop := startConnection(t)
	defer stop()
	access.allowed["evt1|user1"] = true

	ws.send(t, models.ClientFrame{Type: models.FrameJoinEventChat, Ref: "r1", EventID: "evt1"})
	ack := ws.recv(t)
	if ack.Type != models.FrameAck || ack.Ref != "r1" || !ack.Success {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if !hub.InRoom("c1", "evt1") {
		t.Error("expected membership after acked join")
	}
}

func TestConnectionJoinDenied(t *testing.T) {
	ws, hub, _, _, stop := startConnection(t)
	defer stop()

	ws.send(t, models.ClientFrame{Type: models.FrameJoinEventChat, Ref: "r1", EventID: "evt1"})
	ack := ws.recv(t)
	if ack.Success || ack.Error == nil || ack.Error.Code != models.ErrCodeAccessDenied {
		t.Fatalf("expected access_denied ack, got %+v", ack)
	}
	if hub.InRoom("c1", "evt1") {
		t.Error("denied join must not grant membership")
	}

	// The connection survives a denied join.
	ws.send(t, models.ClientFrame{Type: models.FrameLeaveEventChat, Ref: "r2", EventID: "evt1"})
	ack = ws.recv(t)
	if ack.Ref != "r2" || !ack.Success {
		t.Fatalf("expected leave ack after denial, got %+v", ack)
	}
}

func TestConnectionSendAndBroadcast(t *testing.T) {
	ws, hub, access, _, stop := startConnection(t)
	defer stop()
	access.allowed["evt1|user1"] = true

	ws.send(t, models.ClientFrame{Type: models.FrameJoinEventChat, Ref: "r1", EventID: "evt1"})
	ws.recv(t)

	ws.send(t, models.ClientFrame{Type: models.FrameSendEventMessage, Ref: "r2", EventID: "evt1", Text: "hello"})

	// The sender gets both the ack and the room broadcast, in any order.
	var gotAck, gotBroadcast bool
	for i := 0; i < 2; i++ {
		frame := ws.recv(t)
		switch frame.Type {
		case models.FrameAck:
			gotAck = true
			if frame.Ref != "r2" || !frame.Success || frame.Message == nil {
				t.Fatalf("unexpected send ack: %+v", frame)
			}
			if frame.Message.Text != "hello" {
				t.Errorf("ack carries wrong message: %+v", frame.Message)
			}
		case models.FrameNewEventMessage:
			gotBroadcast = true
			if frame.Message == nil || frame.Message.SenderID != "user1" {
				t.Fatalf("unexpected broadcast: %+v", frame)
			}
		default:
			t.Fatalf("unexpected frame type %s", frame.Type)
		}
	}
	if !gotAck || !gotBroadcast {
		t.Errorf("expected ack and broadcast, got ack=%v broadcast=%v", gotAck, gotBroadcast)
	}

	if hub.InRoom("c1", "evt1") != true {
		t.Error("membership lost after send")
	}
}

func TestConnectionTypingNoAck(t *testing.T) {
	ws, _, access, _, stop := startConnection(t)
	defer stop()
	access.allowed["evt1|user1"] = true

	ws.send(t, models.ClientFrame{Type: models.FrameJoinEventChat, Ref: "r1", EventID: "evt1"})
	ws.recv(t)

	// Typing frames are fire-and-forget; the next ack must belong to the
	// following request, not the typing frame.
	ws.send(t, models.ClientFrame{Type: models.FrameTypingStart, EventID: "evt1"})
	ws.send(t, models.ClientFrame{Type: models.FrameLeaveEventChat, Ref: "r2", EventID: "evt1"})

	ack := ws.recv(t)
	if ack.Type != models.FrameAck || ack.Ref != "r2" {
		t.Fatalf("expected leave ack, got %+v", ack)
	}
}

func TestConnectionReplies(t *testing.T) {
	ws, _, access, messages, stop := startConnection(t)
	defer stop()
	access.allowed["evt1|user1"] = true
	messages.byID["m1"] = models.ChatMessage{ID: "m1", EventID: "evt1", ReplyCount: 1}
	messages.replies["m1"] = []models.ChatMessage{{ID: "m2", EventID: "evt1", ReplyToID: "m1"}}

	ws.send(t, models.ClientFrame{Type: models.FrameGetMessageReplies, Ref: "r1", MessageID: "m1"})
	ack := ws.recv(t)
	if !ack.Success || ack.OriginalMessage == nil || ack.OriginalMessage.ID != "m1" {
		t.Fatalf("unexpected replies ack: %+v", ack)
	}
	if len(ack.Replies) != 1 || ack.Replies[0].ID != "m2" {
		t.Errorf("unexpected replies: %+v", ack.Replies)
	}
}

func TestConnectionDisconnectCleansUp(t *testing.T) {
	hub := NewHub()
	access := &fakeAccess{allowed: map[string]bool{"evt1|user1": true}, missing: map[string]bool{}}
	messages := &fakeMessages{byID: map[string]models.ChatMessage{}, replies: map[string][]models.ChatMessage{}}
	svc := NewService(hub, access, messages)

	ws := newMockWS()
	conn := NewConnection(hub, svc, ws, "c1", auth.Identity{UserID: "user1"})

	done := make(chan error, 1)
	go func() { done <- conn.Handle(context.Background()) }()

	ws.send(t, models.ClientFrame{Type: models.FrameJoinEventChat, Ref: "r1", EventID: "evt1"})
	ws.recv(t)

	// A read error, as after a dropped socket, tears everything down.
	close(ws.incoming)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle did not return after read error")
	}

	if hub.InRoom("c1", "evt1") {
		t.Error("expected membership emptied on disconnect")
	}

	// Broadcasting afterwards must not panic on the closed session.
	hub.BroadcastRoom("evt1", models.ServerFrame{Type: models.FrameNewEventMessage}, "")
}
