package client

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// Transport is the minimal surface the manager needs from a live socket.
type Transport interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a transport. The default is a gorilla websocket dialer;
// tests substitute fakes.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Transport, error)
}

type wsDialer struct{}

func (wsDialer) DialContext(ctx context.Context, url string, header http.Header) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &Error{Code: CodeUnauthorized, Message: "handshake rejected", Err: err}
		}
		if ctx.Err() != nil {
			return nil, &Error{Code: CodeTimeout, Message: "connect timed out", Err: err}
		}
		return nil, &Error{Code: CodeConnection, Message: "failed to dial", Err: err}
	}
	return conn, nil
}
