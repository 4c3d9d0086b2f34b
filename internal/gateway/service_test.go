package gateway

import (
	"errors"
	"strings"
	"testing"
	"time"

	"shipmate/internal/auth"
	"shipmate/internal/models"
)

type fakeAccess struct {
	allowed map[string]bool // eventID|userID
	missing map[string]bool // eventID
}

func (a *fakeAccess) CanAccess(eventID, userID string) (bool, error) {
	if a.missing[eventID] {
		return false, models.ErrNotFound
	}
	return a.allowed[eventID+"|"+userID], nil
}

type fakeMessages struct {
	created   []models.ChatMessage
	byID      map[string]models.ChatMessage
	replies   map[string][]models.ChatMessage
	createErr error
}

func (m *fakeMessages) CreateMessage(message models.ChatMessage) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, message)
	return nil
}

func (m *fakeMessages) GetMessage(messageID string) (models.ChatMessage, error) {
	msg, ok := m.byID[messageID]
	if !ok {
		return models.ChatMessage{}, models.ErrNotFound
	}
	return msg, nil
}

func (m *fakeMessages) ListReplies(eventID, parentID string) ([]models.ChatMessage, error) {
	return m.replies[parentID], nil
}

func newTestService() (*Service, *Hub, *fakeAccess, *fakeMessages) {
	hub := NewHub()
	access := &fakeAccess{allowed: map[string]bool{}, missing: map[string]bool{}}
	messages := &fakeMessages{byID: map[string]models.ChatMessage{}, replies: map[string][]models.ChatMessage{}}
	svc := NewService(hub, access, messages)
	svc.now = func() time.Time { return time.UnixMilli(42000) }
	return svc, hub, access, messages
}

func TestJoinRoom(t *testing.T) {
	svc, hub, access, _ := newTestService()
	hub.Register("c1", "user1")
	access.allowed["evt1|user1"] = true

	if ferr := svc.JoinRoom("c1", "user1", "evt1"); ferr != nil {
		t.Fatalf("expected join to succeed, got %+v", ferr)
	}
	if !hub.InRoom("c1", "evt1") {
		t.Error("expected membership after join")
	}

	// Rejoining is fine.
	if ferr := svc.JoinRoom("c1", "user1", "evt1"); ferr != nil {
		t.Errorf("expected rejoin to succeed, got %+v", ferr)
	}
}

func TestJoinRoomDenied(t *testing.T) {
	svc, hub, access, _ := newTestService()
	hub.Register("c1", "user1")
	access.allowed["evt1|user1"] = true
	if ferr := svc.JoinRoom("c1", "user1", "evt1"); ferr != nil {
		t.Fatal(ferr)
	}

	// A denied second join must not disturb existing membership.
	ferr := svc.JoinRoom("c1", "user1", "evt2")
	if ferr == nil || ferr.Code != models.ErrCodeAccessDenied {
		t.Fatalf("expected access_denied, got %+v", ferr)
	}
	if !hub.InRoom("c1", "evt1") {
		t.Error("denied join evicted an unrelated membership")
	}

	access.missing["ghost"] = true
	ferr = svc.JoinRoom("c1", "user1", "ghost")
	if ferr == nil || ferr.Code != models.ErrCodeNotFound {
		t.Errorf("expected not_found for missing event, got %+v", ferr)
	}

	ferr = svc.JoinRoom("c1", "user1", "")
	if ferr == nil || ferr.Code != models.ErrCodeInvalidMessage {
		t.Errorf("expected invalid_message for empty eventId, got %+v", ferr)
	}
}

func TestSendMessage(t *testing.T) {
	svc, hub, access, messages := newTestService()
	senderCh := hub.Register("c1", "user1")
	otherCh := hub.Register("c2", "user2")
	access.allowed["evt1|user1"] = true
	hub.Join("c1", "evt1")
	hub.Join("c2", "evt1")

	ident := auth.Identity{UserID: "user1", DisplayName: "Alice"}
	msg, ferr := svc.SendMessage(ident, "evt1", "  hello crew  ", "", "")
	if ferr != nil {
		t.Fatalf("SendMessage failed: %+v", ferr)
	}

	if msg.Text != "hello crew" {
		t.Errorf("expected trimmed text, got %q", msg.Text)
	}
	if msg.ID == "" || msg.SentAt != 42000 {
		t.Errorf("unexpected persisted fields: %+v", msg)
	}
	if msg.SenderName != "Alice" {
		t.Errorf("expected sender name from identity, got %q", msg.SenderName)
	}
	if len(messages.created) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(messages.created))
	}

	// The broadcast includes the sender and carries the persisted copy.
	for name, ch := range map[string]chan models.ServerFrame{"sender": senderCh, "other": otherCh} {
		frames := drain(ch)
		if len(frames) != 1 {
			t.Fatalf("expected 1 frame for %s, got %d", name, len(frames))
		}
		if frames[0].Type != models.FrameNewEventMessage || frames[0].Message == nil {
			t.Fatalf("unexpected frame for %s: %+v", name, frames[0])
		}
		if frames[0].Message.ID != msg.ID {
			t.Errorf("broadcast for %s does not carry the persisted message", name)
		}
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, hub, access, messages := newTestService()
	hub.Register("c1", "user1")
	access.allowed["evt1|user1"] = true
	ident := auth.Identity{UserID: "user1"}

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t "},
		{"markup only", "<script>alert(1)</script>"},
		{"too long", strings.Repeat("a", maxMessageLength+1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ferr := svc.SendMessage(ident, "evt1", tc.text, "", "")
			if ferr == nil || ferr.Code != models.ErrCodeInvalidMessage {
				t.Errorf("expected invalid_message, got %+v", ferr)
			}
		})
	}
	if len(messages.created) != 0 {
		t.Errorf("invalid messages must not be persisted, got %d", len(messages.created))
	}

	t.Run("sanitized", func(t *testing.T) {
		msg, ferr := svc.SendMessage(ident, "evt1", "hi <b>there</b>", "", "")
		if ferr != nil {
			t.Fatalf("SendMessage failed: %+v", ferr)
		}
		if msg.Text != "hi there" {
			t.Errorf("expected markup stripped, got %q", msg.Text)
		}
	})

	t.Run("image only", func(t *testing.T) {
		msg, ferr := svc.SendMessage(ident, "evt1", "", "", "https://cdn.example/pic.jpg")
		if ferr != nil {
			t.Fatalf("SendMessage failed: %+v", ferr)
		}
		if msg.ImageURL == "" {
			t.Error("expected image URL kept")
		}
	})
}

func TestSendMessageDenied(t *testing.T) {
	svc, hub, _, messages := newTestService()
	ch := hub.Register("c1", "user1")
	hub.Join("c1", "evt1")

	// Membership alone is not enough; send re-checks authorization because
	// RSVP state may have changed since the join.
	_, ferr := svc.SendMessage(auth.Identity{UserID: "user1"}, "evt1", "hi", "", "")
	if ferr == nil || ferr.Code != models.ErrCodeAccessDenied {
		t.Fatalf("expected access_denied, got %+v", ferr)
	}
	if len(messages.created) != 0 {
		t.Error("denied send must not persist")
	}
	if got := len(drain(ch)); got != 0 {
		t.Error("denied send must not broadcast")
	}
}

func TestSendMessageReplyParentMissing(t *testing.T) {
	svc, hub, access, messages := newTestService()
	hub.Register("c1", "user1")
	access.allowed["evt1|user1"] = true
	messages.createErr = models.ErrNotFound

	_, ferr := svc.SendMessage(auth.Identity{UserID: "user1"}, "evt1", "hi", "ghost", "")
	if ferr == nil || ferr.Code != models.ErrCodeNotFound {
		t.Errorf("expected not_found for missing parent, got %+v", ferr)
	}
}

func TestSendMessageStorageError(t *testing.T) {
	svc, hub, access, messages := newTestService()
	ch := hub.Register("c1", "user1")
	access.allowed["evt1|user1"] = true
	hub.Join("c1", "evt1")
	messages.createErr = errors.New("disk full")

	_, ferr := svc.SendMessage(auth.Identity{UserID: "user1"}, "evt1", "hi", "", "")
	if ferr == nil || ferr.Code != models.ErrCodeInternal {
		t.Fatalf("expected internal_error, got %+v", ferr)
	}
	if got := len(drain(ch)); got != 0 {
		t.Error("failed persist must not broadcast")
	}
}

func TestTyping(t *testing.T) {
	svc, hub, _, _ := newTestService()
	senderCh := hub.Register("c1", "user1")
	otherCh := hub.Register("c2", "user2")
	hub.Join("c1", "evt1")
	hub.Join("c2", "evt1")

	ident := auth.Identity{UserID: "user1", DisplayName: "Alice"}
	svc.Typing("c1", ident, "evt1", true)

	if got := len(drain(senderCh)); got != 0 {
		t.Error("typing must exclude the sender")
	}
	frames := drain(otherCh)
	if len(frames) != 1 || frames[0].Type != models.FrameUserTyping {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if frames[0].UserName != "Alice" {
		t.Errorf("expected user name on typing frame, got %q", frames[0].UserName)
	}

	svc.Typing("c1", ident, "evt1", false)
	frames = drain(otherCh)
	if len(frames) != 1 || frames[0].Type != models.FrameUserStoppedTyping {
		t.Fatalf("expected stopped-typing frame, got %+v", frames)
	}

	// Typing into a room the connection never joined is silently dropped.
	svc.Typing("c2", auth.Identity{UserID: "user2"}, "evt2", true)
	if got := len(drain(senderCh)); got != 0 {
		t.Error("typing outside membership must not broadcast")
	}
}

func TestMessageReplies(t *testing.T) {
	svc, _, access, messages := newTestService()
	access.allowed["evt1|user1"] = true
	messages.byID["m1"] = models.ChatMessage{ID: "m1", EventID: "evt1", ReplyCount: 2}
	messages.replies["m1"] = []models.ChatMessage{
		{ID: "m2", EventID: "evt1", ReplyToID: "m1"},
		{ID: "m3", EventID: "evt1", ReplyToID: "m1"},
	}

	original, replies, ferr := svc.MessageReplies("user1", "m1")
	if ferr != nil {
		t.Fatalf("MessageReplies failed: %+v", ferr)
	}
	if original.ID != "m1" || len(replies) != 2 {
		t.Errorf("unexpected thread: %+v / %+v", original, replies)
	}

	// The room is derived from the message, and access applies to it.
	_, _, ferr = svc.MessageReplies("user2", "m1")
	if ferr == nil || ferr.Code != models.ErrCodeAccessDenied {
		t.Errorf("expected access_denied, got %+v", ferr)
	}

	_, _, ferr = svc.MessageReplies("user1", "ghost")
	if ferr == nil || ferr.Code != models.ErrCodeNotFound {
		t.Errorf("expected not_found, got %+v", ferr)
	}
}

func TestPublishCapacity(t *testing.T) {
	svc, hub, _, _ := newTestService()
	memberCh := hub.Register("c1", "user1")
	roomlessCh := hub.Register("c2", "user2")
	hub.Join("c1", "evt1")

	svc.PublishCapacity("evt1", "user3", models.CapacityInfo{
		RSVPCount: models.RSVPCount{Going: 10, Interested: 3},
		IsFull:    true,
		Spots:     0,
	})

	for name, ch := range map[string]chan models.ServerFrame{"member": memberCh, "roomless": roomlessCh} {
		frames := drain(ch)
		if len(frames) != 1 {
			t.Fatalf("expected capacity frame for %s, got %d", name, len(frames))
		}
		frame := frames[0]
		if frame.Type != models.FrameRSVPUpdated || !frame.IsFull {
			t.Errorf("unexpected frame for %s: %+v", name, frame)
		}
		if frame.RSVPCount == nil || frame.RSVPCount.Going != 10 {
			t.Errorf("expected RSVP counts on frame for %s", name)
		}
	}
}
