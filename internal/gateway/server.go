package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"shipmate/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type tokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Server upgrades websocket connections after a mandatory token handshake.
// A connection is either fully authenticated or rejected; there is no
// anonymous session state.
type Server struct {
	verifier tokenVerifier
	hub      *Hub
	service  *Service
	upgrader *websocket.Upgrader
}

func NewServer(verifier tokenVerifier, hub *Hub, service *Service) *Server {
	return &Server{
		verifier: verifier,
		hub:      hub,
		service:  service,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Mobile clients send no Origin header
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ident, err := s.verifier.Verify(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}

	connID := uuid.NewString()
	slog.Info("client connected", "conn_id", connID, "user_id", ident.UserID)

	conn := NewConnection(s.hub, s.service, ws, connID, ident)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Warn("connection closed with error", "conn_id", connID, "error", err)
	}
	slog.Info("client disconnected", "conn_id", connID, "user_id", ident.UserID)
}

// bearerToken extracts the access token from the Authorization header, or
// from the token query parameter for websocket clients that cannot set
// headers on the upgrade request.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("token")
}
