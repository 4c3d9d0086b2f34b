package models

type FrameType string

// Client to server operations.
const (
	FrameJoinEventChat     FrameType = "join_event_chat"
	FrameLeaveEventChat    FrameType = "leave_event_chat"
	FrameSendEventMessage  FrameType = "send_event_message"
	FrameGetMessageReplies FrameType = "get_message_replies"
	FrameTypingStart       FrameType = "event_typing_start"
	FrameTypingStop        FrameType = "event_typing_stop"
)

// Server to client frames. Ack answers one client operation (correlated by
// ref); the rest are pushed to room members, or to everyone for RSVP updates.
const (
	FrameAck               FrameType = "ack"
	FrameNewEventMessage   FrameType = "new_event_message"
	FrameUserTyping        FrameType = "event_user_typing"
	FrameUserStoppedTyping FrameType = "event_user_stopped_typing"
	FrameRSVPUpdated       FrameType = "event_rsvp_updated"
)

// Structured error codes carried in ack frames.
const (
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeAccessDenied   = "access_denied"
	ErrCodeNotFound       = "not_found"
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeInternal       = "internal_error"
)

type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientFrame is one websocket frame sent by the client. Ref correlates the
// eventual ack; fire-and-forget frames (typing) leave it empty.
type ClientFrame struct {
	Type      FrameType `json:"type"`
	Ref       string    `json:"ref,omitempty"`
	EventID   string    `json:"eventId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	ReplyToID string    `json:"replyToId,omitempty"`
}

// ServerFrame is one websocket frame sent to the client.
type ServerFrame struct {
	Type            FrameType     `json:"type"`
	Ref             string        `json:"ref,omitempty"`
	Success         bool          `json:"success,omitempty"`
	Error           *FrameError   `json:"error,omitempty"`
	EventID         string        `json:"eventId,omitempty"`
	UserID          string        `json:"userId,omitempty"`
	UserName        string        `json:"userName,omitempty"`
	Message         *ChatMessage  `json:"message,omitempty"`
	OriginalMessage *ChatMessage  `json:"originalMessage,omitempty"`
	Replies         []ChatMessage `json:"replies,omitempty"`
	RSVPCount       *RSVPCount    `json:"rsvpCount,omitempty"`
	IsFull          bool          `json:"isFull,omitempty"`
	Spots           int           `json:"spots,omitempty"`
}
