package gateway

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"shipmate/internal/auth"
	"shipmate/internal/models"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

const maxMessageLength = 4000

type AccessControl interface {
	CanAccess(eventID, userID string) (bool, error)
}

type MessageStore interface {
	CreateMessage(message models.ChatMessage) error
	GetMessage(messageID string) (models.ChatMessage, error)
	ListReplies(eventID, parentID string) ([]models.ChatMessage, error)
}

// Service implements the gateway operations: authorized joins, the
// persist-then-broadcast send pipeline, typing fan-out, reply threads, and
// the global capacity broadcast.
type Service struct {
	hub      *Hub
	access   AccessControl
	messages MessageStore
	policy   *bluemonday.Policy
	now      func() time.Time
}

func NewService(hub *Hub, access AccessControl, messages MessageStore) *Service {
	return &Service{
		hub:      hub,
		access:   access,
		messages: messages,
		policy:   bluemonday.StrictPolicy(),
		now:      time.Now,
	}
}

// JoinRoom authorizes and performs a room join. Authorization is re-checked
// on every attempt; RSVP state can change after the connection was set up.
// A denied join leaves the connection and its other memberships untouched.
func (s *Service) JoinRoom(connID, userID, eventID string) *models.FrameError {
	if eventID == "" {
		return &models.FrameError{Code: models.ErrCodeInvalidMessage, Message: "eventId is required"}
	}

	if ferr := s.authorize(eventID, userID); ferr != nil {
		return ferr
	}

	s.hub.Join(connID, eventID)
	return nil
}

func (s *Service) LeaveRoom(connID, eventID string) {
	s.hub.Leave(connID, eventID)
}

// SendMessage validates, sanitizes, persists, and then broadcasts the
// persisted message to the room including the sender. The sender reconciles
// its optimistic copy against this authoritative one.
func (s *Service) SendMessage(ident auth.Identity, eventID, text, replyToID, imageURL string) (models.ChatMessage, *models.FrameError) {
	if eventID == "" {
		return models.ChatMessage{}, &models.FrameError{Code: models.ErrCodeInvalidMessage, Message: "eventId is required"}
	}

	text = strings.TrimSpace(s.policy.Sanitize(text))
	if text == "" && imageURL == "" {
		return models.ChatMessage{}, &models.FrameError{Code: models.ErrCodeInvalidMessage, Message: "message is empty"}
	}
	if len(text) > maxMessageLength {
		return models.ChatMessage{}, &models.FrameError{Code: models.ErrCodeInvalidMessage, Message: "message is too long"}
	}

	// Authorization is checked again here, not only on join: capacity and
	// RSVP state can change between the two.
	if ferr := s.authorize(eventID, ident.UserID); ferr != nil {
		return models.ChatMessage{}, ferr
	}

	message := models.ChatMessage{
		ID:         uuid.NewString(),
		EventID:    eventID,
		SenderID:   ident.UserID,
		SenderName: ident.DisplayName,
		Text:       text,
		ImageURL:   imageURL,
		ReplyToID:  replyToID,
		SentAt:     s.now().UnixMilli(),
	}

	if err := s.messages.CreateMessage(message); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ChatMessage{}, &models.FrameError{Code: models.ErrCodeNotFound, Message: "reply parent not found"}
		}
		slog.Error("failed to persist message", "event_id", eventID, "error", err)
		return models.ChatMessage{}, &models.FrameError{Code: models.ErrCodeInternal, Message: "failed to store message"}
	}

	// Not transactional with the persist: a crash here loses only the live
	// notification, clients resync unread/history over REST.
	s.hub.BroadcastRoom(eventID, models.ServerFrame{
		Type:    models.FrameNewEventMessage,
		EventID: eventID,
		Message: &message,
	}, "")

	return message, nil
}

// Typing broadcasts an ephemeral typing signal to the room, excluding the
// sender. Nothing is persisted or retained.
func (s *Service) Typing(connID string, ident auth.Identity, eventID string, start bool) {
	if eventID == "" || !s.hub.InRoom(connID, eventID) {
		return
	}

	frameType := models.FrameUserTyping
	if !start {
		frameType = models.FrameUserStoppedTyping
	}
	s.hub.BroadcastRoom(eventID, models.ServerFrame{
		Type:     frameType,
		EventID:  eventID,
		UserID:   ident.UserID,
		UserName: ident.DisplayName,
	}, connID)
}

// MessageReplies returns a message and its ordered replies after checking
// access against the message's owning room.
func (s *Service) MessageReplies(userID, messageID string) (models.ChatMessage, []models.ChatMessage, *models.FrameError) {
	if messageID == "" {
		return models.ChatMessage{}, nil, &models.FrameError{Code: models.ErrCodeInvalidMessage, Message: "messageId is required"}
	}

	original, err := s.messages.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ChatMessage{}, nil, &models.FrameError{Code: models.ErrCodeNotFound, Message: "message not found"}
		}
		slog.Error("failed to load message", "message_id", messageID, "error", err)
		return models.ChatMessage{}, nil, &models.FrameError{Code: models.ErrCodeInternal, Message: "failed to load message"}
	}

	if ferr := s.authorize(original.EventID, userID); ferr != nil {
		return models.ChatMessage{}, nil, ferr
	}

	replies, err := s.messages.ListReplies(original.EventID, messageID)
	if err != nil {
		slog.Error("failed to list replies", "message_id", messageID, "error", err)
		return models.ChatMessage{}, nil, &models.FrameError{Code: models.ErrCodeInternal, Message: "failed to load replies"}
	}

	return original, replies, nil
}

// PublishCapacity emits the capacity update to every connected socket,
// independent of room membership.
func (s *Service) PublishCapacity(eventID, userID string, info models.CapacityInfo) {
	count := info.RSVPCount
	s.hub.BroadcastAll(models.ServerFrame{
		Type:      models.FrameRSVPUpdated,
		EventID:   eventID,
		UserID:    userID,
		RSVPCount: &count,
		IsFull:    info.IsFull,
		Spots:     info.Spots,
	})
}

func (s *Service) authorize(eventID, userID string) *models.FrameError {
	ok, err := s.access.CanAccess(eventID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.FrameError{Code: models.ErrCodeNotFound, Message: "event not found"}
		}
		slog.Error("access check failed", "event_id", eventID, "user_id", userID, "error", err)
		return &models.FrameError{Code: models.ErrCodeInternal, Message: "access check failed"}
	}
	if !ok {
		return &models.FrameError{Code: models.ErrCodeAccessDenied, Message: "not a host or going attendee"}
	}
	return nil
}
