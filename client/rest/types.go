package rest

// Message mirrors the server's chat message representation.
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

type MessagePreview struct {
	Text       string `json:"text"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	SentAt     int64  `json:"sentAt"`
}

// RoomSummary is one room of GET /me/event-chats: the server-computed
// unread snapshot plus the latest message preview.
type RoomSummary struct {
	EventID     string          `json:"eventId"`
	Title       string          `json:"title"`
	UnreadCount int             `json:"unreadCount"`
	LastMessage *MessagePreview `json:"lastMessage,omitempty"`
}

type roomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type messageResponse struct {
	Message Message `json:"message"`
}

type markReadResponse struct {
	LastReadAt int64 `json:"lastReadAt"`
}

// PostMessageRequest is the fallback send payload.
type PostMessageRequest struct {
	Text      string `json:"text"`
	ReplyToID string `json:"replyToId,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

type rsvpRequest struct {
	Status string `json:"status"`
}

// RSVPCount is the going/interested breakdown.
type RSVPCount struct {
	Going      int `json:"going"`
	Interested int `json:"interested"`
}

// CapacityInfo is the fullness snapshot returned by the RSVP endpoint.
type CapacityInfo struct {
	RSVPCount RSVPCount `json:"rsvpCount"`
	IsFull    bool      `json:"isFull"`
	Spots     int       `json:"spots"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
