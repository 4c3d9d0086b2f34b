package client

// Message is the authoritative server copy of a chat message.
type Message struct {
	ID         string `json:"id"`
	EventID    string `json:"eventId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	ImageURL   string `json:"imageUrl,omitempty"`
	ReplyToID  string `json:"replyToId,omitempty"`
	SentAt     int64  `json:"sentAt"`
	ReplyCount int    `json:"replyCount"`
}

// MessageEvent is delivered for each broadcast message, including the
// sender's own (the client reconciles its optimistic copy against it).
type MessageEvent struct {
	EventID string
	Message Message
}

// TypingEvent is an ephemeral typing signal from another room member.
type TypingEvent struct {
	EventID  string
	UserID   string
	UserName string
	Started  bool
}

// CapacityEvent announces an event's RSVP counts changed. It arrives on
// every connection, joined rooms or not.
type CapacityEvent struct {
	EventID    string
	Going      int
	Interested int
	IsFull     bool
	Spots      int
	UserID     string
}

// MessagePreview is the conversation-list summary of a room's latest message.
type MessagePreview struct {
	Text       string
	SenderID   string
	SenderName string
	SentAt     int64
}

// RoomSnapshot seeds the unread tracker from the server-computed state.
type RoomSnapshot struct {
	EventID     string
	Title       string
	UnreadCount int
	LastMessage *MessagePreview
}

// Wire frames. These mirror the gateway protocol; the SDK keeps its own
// copies so applications never depend on server internals.

type frameType string

const (
	frameJoinEventChat     frameType = "join_event_chat"
	frameLeaveEventChat    frameType = "leave_event_chat"
	frameSendEventMessage  frameType = "send_event_message"
	frameGetMessageReplies frameType = "get_message_replies"
	frameTypingStart       frameType = "event_typing_start"
	frameTypingStop        frameType = "event_typing_stop"

	frameAck               frameType = "ack"
	frameNewEventMessage   frameType = "new_event_message"
	frameUserTyping        frameType = "event_user_typing"
	frameUserStoppedTyping frameType = "event_user_stopped_typing"
	frameRSVPUpdated       frameType = "event_rsvp_updated"
)

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type clientFrame struct {
	Type      frameType `json:"type"`
	Ref       string    `json:"ref,omitempty"`
	EventID   string    `json:"eventId,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	ReplyToID string    `json:"replyToId,omitempty"`
}

type rsvpCount struct {
	Going      int `json:"going"`
	Interested int `json:"interested"`
}

type serverFrame struct {
	Type            frameType   `json:"type"`
	Ref             string      `json:"ref,omitempty"`
	Success         bool        `json:"success,omitempty"`
	Error           *frameError `json:"error,omitempty"`
	EventID         string      `json:"eventId,omitempty"`
	UserID          string      `json:"userId,omitempty"`
	UserName        string      `json:"userName,omitempty"`
	Message         *Message    `json:"message,omitempty"`
	OriginalMessage *Message    `json:"originalMessage,omitempty"`
	Replies         []Message   `json:"replies,omitempty"`
	RSVPCount       *rsvpCount  `json:"rsvpCount,omitempty"`
	IsFull          bool        `json:"isFull,omitempty"`
	Spots           int         `json:"spots,omitempty"`
}
