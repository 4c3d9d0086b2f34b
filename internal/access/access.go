package access

import (
	"errors"

	"shipmate/internal/models"
)

// Store is the slice of persistence the access check needs.
type Store interface {
	GetEvent(eventID string) (models.Event, error)
	GetRSVP(eventID, userID string) (models.RSVP, error)
}

// Controller answers "can user U access event E's chat?". The rule is
// host OR RSVP status going; anything else is denied. Callers re-check on
// every join and send because RSVP state changes while connections live.
type Controller struct {
	store Store
}

func NewController(store Store) *Controller {
	return &Controller{store: store}
}

func (c *Controller) CanAccess(eventID, userID string) (bool, error) {
	event, err := c.store.GetEvent(eventID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, models.ErrNotFound
		}
		return false, err
	}

	if event.HostID == userID {
		return true, nil
	}

	rsvp, err := c.store.GetRSVP(eventID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return rsvp.Status == models.RSVPStatusGoing, nil
}

// Capacity computes the broadcastable fullness snapshot for an event.
func (c *Controller) Capacity(eventID string, count models.RSVPCount, capacity int) models.CapacityInfo {
	info := models.CapacityInfo{RSVPCount: count}
	if capacity > 0 {
		info.IsFull = count.Going >= capacity
		info.Spots = capacity - count.Going
		if info.Spots < 0 {
			info.Spots = 0
		}
	}
	return info
}
