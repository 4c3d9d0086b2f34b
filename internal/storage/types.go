package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBEvent struct {
	ID       string `msgpack:"id"`
	HostID   string `msgpack:"hostId"`
	Title    string `msgpack:"title"`
	Capacity int    `msgpack:"capacity"`
	StartsAt int64  `msgpack:"startsAt"`
}

func (e *DBEvent) Key() []byte {
	return []byte(e.ID)
}

func (e *DBEvent) MarshalBinary() (data []byte, err error) {
	type alias DBEvent
	return msgpack.Marshal((*alias)(e))
}

func (e *DBEvent) UnmarshalBinary(data []byte) error {
	type alias DBEvent
	return msgpack.Unmarshal(data, (*alias)(e))
}

type DBRSVP struct {
	EventID   string `msgpack:"eventId"`
	UserID    string `msgpack:"userId"`
	Status    string `msgpack:"status"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (r *DBRSVP) Key() []byte {
	return []byte(r.UserID)
}

func (r *DBRSVP) MarshalBinary() (data []byte, err error) {
	type alias DBRSVP
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRSVP) UnmarshalBinary(data []byte) error {
	type alias DBRSVP
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBMessage struct {
	ID         string `msgpack:"id"`
	EventID    string `msgpack:"eventId"`
	SenderID   string `msgpack:"senderId"`
	SenderName string `msgpack:"senderName"`
	Text       string `msgpack:"text"`
	ImageURL   string `msgpack:"imageUrl"`
	ReplyToID  string `msgpack:"replyToId"`
	SentAt     int64  `msgpack:"sentAt"`
	ReplyCount int    `msgpack:"replyCount"`
}

// Key orders messages by send time; the ID suffix breaks same-millisecond ties.
func (m *DBMessage) Key() []byte {
	return messageKey(m.SentAt, m.ID)
}

func messageKey(sentAt int64, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(sentAt))
	return append(key, id...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message from its ID alone: the owning event's
// bucket plus the timestamp-ordered key inside it.
type DBMessageRef struct {
	ID      string `msgpack:"id"`
	EventID string `msgpack:"eventId"`
	MsgKey  []byte `msgpack:"msgKey"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.ID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBReadMarker struct {
	UserID     string `msgpack:"userId"`
	EventID    string `msgpack:"eventId"`
	LastReadAt int64  `msgpack:"lastReadAt"`
}

func (m *DBReadMarker) Key() []byte {
	return readMarkerKey(m.UserID, m.EventID)
}

func readMarkerKey(userID, eventID string) []byte {
	return []byte(userID + "|" + eventID)
}

func (m *DBReadMarker) MarshalBinary() (data []byte, err error) {
	type alias DBReadMarker
	return msgpack.Marshal((*alias)(m))
}

func (m *DBReadMarker) UnmarshalBinary(data []byte) error {
	type alias DBReadMarker
	return msgpack.Unmarshal(data, (*alias)(m))
}
