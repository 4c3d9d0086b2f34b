package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shipmate/internal/access"
	"shipmate/internal/auth"
	"shipmate/internal/gateway"
	"shipmate/internal/models"
	"shipmate/internal/storage"

	"github.com/go-chi/chi/v5"
)

const defaultHistoryLimit = 50

type contextKey string

const identityKey contextKey = "identity"

type tokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// API serves the REST endpoints the chat layer consumes: the room list with
// its unread snapshot, message history, the fallback send path, read-marker
// persistence, and the RSVP capacity trigger.
type API struct {
	verifier tokenVerifier
	store    *storage.BboltStorage
	service  *gateway.Service
	access   *access.Controller
	now      func() time.Time
}

func New(verifier tokenVerifier, store *storage.BboltStorage, service *gateway.Service, access *access.Controller) *API {
	return &API{
		verifier: verifier,
		store:    store,
		service:  service,
		access:   access,
		now:      time.Now,
	}
}

func (a *API) Routes(wsHandler http.HandlerFunc) chi.Router {
	r := chi.NewRouter()

	r.Get("/ws", wsHandler)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/me/event-chats", a.listEventChats)
		r.Get("/events/{eventID}/chat/messages", a.listMessages)
		r.Post("/events/{eventID}/chat/messages", a.postMessage)
		r.Post("/events/{eventID}/chat/read", a.markRead)
		r.Post("/events/{eventID}/rsvp", a.updateRSVP)
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			token = after
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, models.ErrCodeUnauthorized, "missing bearer token")
			return
		}

		ident, err := a.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

func identityFrom(r *http.Request) auth.Identity {
	ident, _ := r.Context().Value(identityKey).(auth.Identity)
	return ident
}

// listEventChats returns every room the user belongs to with the
// server-computed unread snapshot and last-message preview.
func (a *API) listEventChats(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	events, err := a.store.ListEventsForUser(ident.UserID)
	if err != nil {
		slog.Error("failed to list events", "user_id", ident.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to list rooms")
		return
	}

	summaries := make([]models.RoomSummary, 0, len(events))
	for _, event := range events {
		// No marker means everything not authored by the user is unread.
		var lastReadAt int64
		if marker, err := a.store.GetReadMarker(ident.UserID, event.ID); err == nil {
			lastReadAt = marker.LastReadAt
		}

		unread, err := a.store.CountUnread(event.ID, ident.UserID, lastReadAt)
		if err != nil {
			slog.Error("failed to count unread", "event_id", event.ID, "error", err)
			writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to compute unread")
			return
		}

		summary := models.RoomSummary{
			EventID:     event.ID,
			Title:       event.Title,
			UnreadCount: unread,
		}
		if last, err := a.store.LastMessage(event.ID); err == nil {
			summary.LastMessage = &models.MessagePreview{
				Text:       last.Text,
				SenderID:   last.SenderID,
				SenderName: last.SenderName,
				SentAt:     last.SentAt,
			}
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, map[string]any{"rooms": summaries})
}

// listMessages returns history newest first, cursor-paginated by timestamp.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	eventID := chi.URLParam(r, "eventID")

	if !a.authorized(w, eventID, ident.UserID) {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var before int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			before = n
		}
	}

	messages, err := a.store.ListMessages(eventID, before, limit)
	if err != nil {
		slog.Error("failed to list messages", "event_id", eventID, "error", err)
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type postMessageRequest struct {
	Text      string `json:"text"`
	ReplyToID string `json:"replyToId,omitempty"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// postMessage is the REST fallback send. It runs the same pipeline as the
// socket path, so connected clients still see the broadcast.
func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	eventID := chi.URLParam(r, "eventID")

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidMessage, "invalid request body")
		return
	}

	message, ferr := a.service.SendMessage(ident, eventID, req.Text, req.ReplyToID, req.ImageURL)
	if ferr != nil {
		writeError(w, statusForCode(ferr.Code), ferr.Code, ferr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"message": message})
}

// markRead persists lastReadAt = now for (user, room). Anything sent at or
// before that instant counts as read, including by later re-fetch.
func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	eventID := chi.URLParam(r, "eventID")

	if !a.authorized(w, eventID, ident.UserID) {
		return
	}

	lastReadAt := a.now().UnixMilli()
	if err := a.store.UpsertReadMarker(ident.UserID, eventID, lastReadAt); err != nil {
		slog.Error("failed to upsert read marker", "event_id", eventID, "error", err)
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to persist read marker")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"lastReadAt": lastReadAt})
}

type rsvpRequest struct {
	Status models.RSVPStatus `json:"status"`
}

// updateRSVP records an RSVP change and fires the global capacity broadcast.
// Event CRUD proper lives elsewhere; this endpoint exists because capacity
// changes must reach every connected client immediately.
func (a *API) updateRSVP(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	eventID := chi.URLParam(r, "eventID")

	var req rsvpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidMessage, "invalid request body")
		return
	}
	switch req.Status {
	case models.RSVPStatusGoing, models.RSVPStatusInterested, models.RSVPStatusNone:
	default:
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidMessage, "invalid rsvp status")
		return
	}

	event, err := a.store.GetEvent(eventID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, models.ErrCodeNotFound, "event not found")
			return
		}
		slog.Error("failed to load event", "event_id", eventID, "error", err)
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to load event")
		return
	}

	if req.Status == models.RSVPStatusGoing {
		count, err := a.store.CountRSVPs(eventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to count rsvps")
			return
		}
		current, _ := a.store.GetRSVP(eventID, ident.UserID)
		if event.Capacity > 0 && count.Going >= event.Capacity && current.Status != models.RSVPStatusGoing {
			writeError(w, http.StatusConflict, "event_full", "event is full")
			return
		}
	}

	err = a.store.UpsertRSVP(models.RSVP{
		EventID:   eventID,
		UserID:    ident.UserID,
		Status:    req.Status,
		UpdatedAt: a.now().Unix(),
	})
	if err != nil {
		slog.Error("failed to upsert rsvp", "event_id", eventID, "error", err)
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to persist rsvp")
		return
	}

	count, err := a.store.CountRSVPs(eventID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to count rsvps")
		return
	}
	info := a.access.Capacity(eventID, count, event.Capacity)
	a.service.PublishCapacity(eventID, ident.UserID, info)

	writeJSON(w, http.StatusOK, info)
}

func (a *API) authorized(w http.ResponseWriter, eventID, userID string) bool {
	ok, err := a.access.CanAccess(eventID, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, models.ErrCodeNotFound, "event not found")
			return false
		}
		slog.Error("access check failed", "event_id", eventID, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, models.ErrCodeInternal, "access check failed")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, models.ErrCodeAccessDenied, "not a host or going attendee")
		return false
	}
	return true
}

func statusForCode(code string) int {
	switch code {
	case models.ErrCodeAccessDenied:
		return http.StatusForbidden
	case models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeInvalidMessage:
		return http.StatusBadRequest
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": models.FrameError{Code: code, Message: message},
	})
}
