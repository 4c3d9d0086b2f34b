package storage

import (
	"fmt"
	"time"

	"shipmate/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketEvents       = []byte("events")
	bucketRSVPs        = []byte("rsvps")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
	bucketReadMarkers  = []byte("read_markers")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketEvents,
			bucketRSVPs,
			bucketMessages,
			bucketMessageIndex,
			bucketReadMarkers,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertEvent saves an event to the database.
func (s *BboltStorage) UpsertEvent(event models.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		dbEvent := &DBEvent{
			ID:       event.ID,
			HostID:   event.HostID,
			Title:    event.Title,
			Capacity: event.Capacity,
			StartsAt: event.StartsAt,
		}
		data, err := dbEvent.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbEvent.Key(), data)
	})
}

func (s *BboltStorage) GetEvent(eventID string) (models.Event, error) {
	var event models.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEvents).Get([]byte(eventID))
		if data == nil {
			return models.ErrNotFound
		}
		var dbEvent DBEvent
		if err := dbEvent.UnmarshalBinary(data); err != nil {
			return err
		}
		event = models.Event{
			ID:       dbEvent.ID,
			HostID:   dbEvent.HostID,
			Title:    dbEvent.Title,
			Capacity: dbEvent.Capacity,
			StartsAt: dbEvent.StartsAt,
		}
		return nil
	})
	return event, err
}

// UpsertRSVP saves a user's RSVP for an event.
func (s *BboltStorage) UpsertRSVP(rsvp models.RSVP) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		eventBucket, err := tx.Bucket(bucketRSVPs).CreateBucketIfNotExists([]byte(rsvp.EventID))
		if err != nil {
			return fmt.Errorf("failed to create rsvp bucket: %w", err)
		}
		dbRSVP := &DBRSVP{
			EventID:   rsvp.EventID,
			UserID:    rsvp.UserID,
			Status:    string(rsvp.Status),
			UpdatedAt: rsvp.UpdatedAt,
		}
		data, err := dbRSVP.MarshalBinary()
		if err != nil {
			return err
		}
		return eventBucket.Put(dbRSVP.Key(), data)
	})
}

func (s *BboltStorage) GetRSVP(eventID, userID string) (models.RSVP, error) {
	var rsvp models.RSVP
	err := s.db.View(func(tx *bbolt.Tx) error {
		eventBucket := tx.Bucket(bucketRSVPs).Bucket([]byte(eventID))
		if eventBucket == nil {
			return models.ErrNotFound
		}
		data := eventBucket.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}
		var dbRSVP DBRSVP
		if err := dbRSVP.UnmarshalBinary(data); err != nil {
			return err
		}
		rsvp = models.RSVP{
			EventID:   dbRSVP.EventID,
			UserID:    dbRSVP.UserID,
			Status:    models.RSVPStatus(dbRSVP.Status),
			UpdatedAt: dbRSVP.UpdatedAt,
		}
		return nil
	})
	return rsvp, err
}

// CountRSVPs returns the going/interested breakdown for an event.
func (s *BboltStorage) CountRSVPs(eventID string) (models.RSVPCount, error) {
	var count models.RSVPCount
	err := s.db.View(func(tx *bbolt.Tx) error {
		eventBucket := tx.Bucket(bucketRSVPs).Bucket([]byte(eventID))
		if eventBucket == nil {
			return nil
		}
		return eventBucket.ForEach(func(k, v []byte) error {
			var dbRSVP DBRSVP
			if err := dbRSVP.UnmarshalBinary(v); err != nil {
				return err
			}
			switch models.RSVPStatus(dbRSVP.Status) {
			case models.RSVPStatusGoing:
				count.Going++
			case models.RSVPStatusInterested:
				count.Interested++
			}
			return nil
		})
	})
	return count, err
}

// ListEventsForUser returns every event whose chat the user belongs to:
// events they host plus events they RSVP'd going for.
func (s *BboltStorage) ListEventsForUser(userID string) ([]models.Event, error) {
	var events []models.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		rsvps := tx.Bucket(bucketRSVPs)
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var dbEvent DBEvent
			if err := dbEvent.UnmarshalBinary(v); err != nil {
				return err
			}

			member := dbEvent.HostID == userID
			if !member {
				if eventBucket := rsvps.Bucket(k); eventBucket != nil {
					if data := eventBucket.Get([]byte(userID)); data != nil {
						var dbRSVP DBRSVP
						if err := dbRSVP.UnmarshalBinary(data); err != nil {
							return err
						}
						member = models.RSVPStatus(dbRSVP.Status) == models.RSVPStatusGoing
					}
				}
			}

			if member {
				events = append(events, models.Event{
					ID:       dbEvent.ID,
					HostID:   dbEvent.HostID,
					Title:    dbEvent.Title,
					Capacity: dbEvent.Capacity,
					StartsAt: dbEvent.StartsAt,
				})
			}
			return nil
		})
	})
	return events, err
}

// CreateMessage persists a chat message, indexes it by ID, and bumps the
// parent's reply count when it answers another message.
func (s *BboltStorage) CreateMessage(message models.ChatMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if message.EventID == "" {
			return fmt.Errorf("message missing eventID")
		}

		eventBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.EventID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		dbMessage := DBMessage{
			ID:         message.ID,
			EventID:    message.EventID,
			SenderID:   message.SenderID,
			SenderName: message.SenderName,
			Text:       message.Text,
			ImageURL:   message.ImageURL,
			ReplyToID:  message.ReplyToID,
			SentAt:     message.SentAt,
			ReplyCount: message.ReplyCount,
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := eventBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		index := tx.Bucket(bucketMessageIndex)
		ref := DBMessageRef{ID: message.ID, EventID: message.EventID, MsgKey: dbMessage.Key()}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		if err := index.Put(ref.Key(), refData); err != nil {
			return err
		}

		if message.ReplyToID == "" {
			return nil
		}

		// Bump the parent's derived reply count.
		parent, err := getMessageTx(tx, message.ReplyToID)
		if err != nil {
			return fmt.Errorf("reply parent %s: %w", message.ReplyToID, err)
		}
		if parent.EventID != message.EventID {
			return fmt.Errorf("reply parent %s belongs to another event", message.ReplyToID)
		}
		parent.ReplyCount++
		parentData, err := parent.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessages).Bucket([]byte(parent.EventID)).Put(parent.Key(), parentData)
	})
}

func getMessageTx(tx *bbolt.Tx, messageID string) (*DBMessage, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(messageID))
	if refData == nil {
		return nil, models.ErrNotFound
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, err
	}

	eventBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.EventID))
	if eventBucket == nil {
		return nil, models.ErrNotFound
	}
	data := eventBucket.Get(ref.MsgKey)
	if data == nil {
		return nil, models.ErrNotFound
	}

	var dbMessage DBMessage
	if err := dbMessage.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbMessage, nil
}

// GetMessage loads a message by ID alone, via the message index.
func (s *BboltStorage) GetMessage(messageID string) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMessage, err := getMessageTx(tx, messageID)
		if err != nil {
			return err
		}
		message = toModelMessage(dbMessage)
		return nil
	})
	return message, err
}

// ListMessages returns up to limit messages sent strictly before the given
// timestamp, newest first. A zero before means "from the latest".
func (s *BboltStorage) ListMessages(eventID string, before int64, limit int) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		eventBucket := tx.Bucket(bucketMessages).Bucket([]byte(eventID))
		if eventBucket == nil {
			return nil
		}

		c := eventBucket.Cursor()
		var k, v []byte
		if before <= 0 {
			k, v = c.Last()
		} else {
			// Position on the last key strictly below the cursor timestamp.
			k, v = c.Seek(messageKey(before, ""))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		for ; k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, toModelMessage(&dbMessage))
		}
		return nil
	})
	return messages, err
}

// ListReplies returns the replies to a message in send order.
func (s *BboltStorage) ListReplies(eventID, parentID string) ([]models.ChatMessage, error) {
	var replies []models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		eventBucket := tx.Bucket(bucketMessages).Bucket([]byte(eventID))
		if eventBucket == nil {
			return nil
		}
		return eventBucket.ForEach(func(k, v []byte) error {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMessage.ReplyToID == parentID {
				replies = append(replies, toModelMessage(&dbMessage))
			}
			return nil
		})
	})
	return replies, err
}

// CountUnread counts messages sent after the watermark by anyone but the
// user. This is the only source of truth for unread counts.
func (s *BboltStorage) CountUnread(eventID, userID string, lastReadAt int64) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		eventBucket := tx.Bucket(bucketMessages).Bucket([]byte(eventID))
		if eventBucket == nil {
			return nil
		}

		c := eventBucket.Cursor()
		// Strictly after the watermark.
		min := messageKey(lastReadAt+1, "")
		for k, v := c.Seek(min); k != nil; k, v = c.Next() {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMessage.SenderID != userID {
				count++
			}
		}
		return nil
	})
	return count, err
}

// LastMessage returns the most recent message of an event's chat.
func (s *BboltStorage) LastMessage(eventID string) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		eventBucket := tx.Bucket(bucketMessages).Bucket([]byte(eventID))
		if eventBucket == nil {
			return models.ErrNotFound
		}
		k, v := eventBucket.Cursor().Last()
		if k == nil {
			return models.ErrNotFound
		}
		var dbMessage DBMessage
		if err := dbMessage.UnmarshalBinary(v); err != nil {
			return err
		}
		message = toModelMessage(&dbMessage)
		return nil
	})
	return message, err
}

// UpsertReadMarker persists the last-read watermark for one (user, room) pair.
func (s *BboltStorage) UpsertReadMarker(userID, eventID string, lastReadAt int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReadMarkers)
		dbMarker := &DBReadMarker{
			UserID:     userID,
			EventID:    eventID,
			LastReadAt: lastReadAt,
		}
		data, err := dbMarker.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbMarker.Key(), data)
	})
}

func (s *BboltStorage) GetReadMarker(userID, eventID string) (models.ReadMarker, error) {
	var marker models.ReadMarker
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketReadMarkers).Get(readMarkerKey(userID, eventID))
		if data == nil {
			return models.ErrNotFound
		}
		var dbMarker DBReadMarker
		if err := dbMarker.UnmarshalBinary(data); err != nil {
			return err
		}
		marker = models.ReadMarker{
			UserID:     dbMarker.UserID,
			EventID:    dbMarker.EventID,
			LastReadAt: dbMarker.LastReadAt,
		}
		return nil
	})
	return marker, err
}

func toModelMessage(m *DBMessage) models.ChatMessage {
	return models.ChatMessage{
		ID:         m.ID,
		EventID:    m.EventID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Text:       m.Text,
		ImageURL:   m.ImageURL,
		ReplyToID:  m.ReplyToID,
		SentAt:     m.SentAt,
		ReplyCount: m.ReplyCount,
	}
}
