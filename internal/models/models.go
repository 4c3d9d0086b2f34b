package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

type RSVPStatus string

const (
	RSVPStatusGoing      RSVPStatus = "going"
	RSVPStatusInterested RSVPStatus = "interested"
	RSVPStatusNone       RSVPStatus = "none"
)

// Event is the slice of the events domain this layer needs: who hosts it
// and how many people fit. Full event CRUD lives elsewhere.
type Event struct {
	ID       string `json:"id"`
	HostID   string `json:"hostId"`
	Title    string `json:"title"`
	Capacity int    `json:"capacity"` // 0 means unlimited
	StartsAt int64  `json:"startsAt"` // Unix timestamp (seconds)
}

// RSVP is one user's attendance state for one event.
type RSVP struct {
	EventID   string     `json:"eventId"`
	UserID    string     `json:"userId"`
	Status    RSVPStatus `json:"status"`
	UpdatedAt int64      `json:"updatedAt"`
}

// ChatMessage is immutable once created, except for the derived ReplyCount.
type ChatMessage struct {
	ID         string `json:"id"`
	EventID    string `json:"eventId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	ImageURL   string `json:"imageUrl,omitempty"`
	ReplyToID  string `json:"replyToId,omitempty"`
	SentAt     int64  `json:"sentAt"` // Unix timestamp (milliseconds)
	ReplyCount int    `json:"replyCount"`
}

// ReadMarker is the persisted per-(user, room) last-read watermark.
// Unread counts are derived from it plus message timestamps, never kept
// as an independent counter.
type ReadMarker struct {
	UserID     string `json:"userId"`
	EventID    string `json:"eventId"`
	LastReadAt int64  `json:"lastReadAt"` // Unix timestamp (milliseconds)
}

// RSVPCount is the going/interested breakdown broadcast with capacity updates.
type RSVPCount struct {
	Going      int `json:"going"`
	Interested int `json:"interested"`
}

// CapacityInfo describes an event's fullness after an RSVP change.
type CapacityInfo struct {
	RSVPCount RSVPCount `json:"rsvpCount"`
	IsFull    bool      `json:"isFull"`
	Spots     int       `json:"spots"`
}

// MessagePreview is the last-message summary shown on the conversation list.
type MessagePreview struct {
	Text       string `json:"text"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	SentAt     int64  `json:"sentAt"`
}

// RoomSummary is one entry of the GET /me/event-chats response: the room,
// its server-computed unread snapshot, and the latest message preview.
type RoomSummary struct {
	EventID     string          `json:"eventId"`
	Title       string          `json:"title"`
	UnreadCount int             `json:"unreadCount"`
	LastMessage *MessagePreview `json:"lastMessage,omitempty"`
}
