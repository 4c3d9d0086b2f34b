package gateway

import (
	"context"
	"errors"
	"sync"

	"shipmate/internal/auth"
	"shipmate/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// Connection pumps frames between one websocket and the hub. All writes to
// the socket go through mainLoop so acks and broadcasts never interleave.
type Connection struct {
	ws         wsConnection
	service    *Service
	hub        *Hub
	connID     string
	ident      auth.Identity
	fromClient chan models.ClientFrame
	fromServer chan models.ServerFrame
	errorCh    chan error
}

func NewConnection(hub *Hub, service *Service, ws wsConnection, connID string, ident auth.Identity) *Connection {
	return &Connection{
		ws:         ws,
		service:    service,
		hub:        hub,
		connID:     connID,
		ident:      ident,
		fromClient: make(chan models.ClientFrame),
		fromServer: hub.Register(connID, ident.UserID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		// Disconnection always empties room membership.
		c.hub.Unregister(c.connID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpFrames(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpFrames(ctx context.Context) error {
	for {
		var frame models.ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			if ack := c.processClientFrame(frame); ack != nil {
				if err := c.ws.WriteJSON(ack); err != nil {
					return err
				}
			}
		case frame, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientFrame runs one client operation and returns the ack to write,
// or nil for fire-and-forget frames.
func (c *Connection) processClientFrame(frame models.ClientFrame) *models.ServerFrame {
	switch frame.Type {
	case models.FrameJoinEventChat:
		ferr := c.service.JoinRoom(c.connID, c.ident.UserID, frame.EventID)
		return ackFrame(frame.Ref, frame.EventID, ferr)

	case models.FrameLeaveEventChat:
		c.service.LeaveRoom(c.connID, frame.EventID)
		return ackFrame(frame.Ref, frame.EventID, nil)

	case models.FrameSendEventMessage:
		message, ferr := c.service.SendMessage(c.ident, frame.EventID, frame.Text, frame.ReplyToID, frame.ImageURL)
		ack := ackFrame(frame.Ref, frame.EventID, ferr)
		if ferr == nil {
			ack.Message = &message
		}
		return ack

	case models.FrameGetMessageReplies:
		original, replies, ferr := c.service.MessageReplies(c.ident.UserID, frame.MessageID)
		ack := ackFrame(frame.Ref, "", ferr)
		if ferr == nil {
			ack.OriginalMessage = &original
			ack.Replies = replies
		}
		return ack

	case models.FrameTypingStart:
		c.service.Typing(c.connID, c.ident, frame.EventID, true)

	case models.FrameTypingStop:
		c.service.Typing(c.connID, c.ident, frame.EventID, false)
	}

	return nil
}

func ackFrame(ref, eventID string, ferr *models.FrameError) *models.ServerFrame {
	return &models.ServerFrame{
		Type:    models.FrameAck,
		Ref:     ref,
		EventID: eventID,
		Success: ferr == nil,
		Error:   ferr,
	}
}
