package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is a typed REST failure carrying the response status and the
// server's structured error, so callers can distinguish, say, "event is
// full" from a generic failure.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s: %s", e.Status, e.Code, e.Message)
}

// TokenProvider supplies the bearer token for each request.
type TokenProvider func(ctx context.Context) (string, error)

// Client provides REST access to the chat endpoints this layer consumes.
type Client struct {
	baseURL    string
	token      TokenProvider
	httpClient *http.Client
}

// NewClient creates a REST client. baseURL is the API root, e.g.
// "http://localhost:8080".
func NewClient(baseURL string, token TokenProvider) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// ListEventChats returns the user's rooms with the unread snapshot.
func (c *Client) ListEventChats(ctx context.Context) ([]RoomSummary, error) {
	var resp roomsResponse
	if err := c.get(ctx, "/me/event-chats", &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// GetMessages retrieves history for a room, newest first, cursor-paginated
// by timestamp. A zero before means "from the latest".
func (c *Client) GetMessages(ctx context.Context, eventID string, limit int, before int64) ([]Message, error) {
	url := fmt.Sprintf("/events/%s/chat/messages?limit=%d", eventID, limit)
	if before > 0 {
		url += fmt.Sprintf("&before=%d", before)
	}

	var resp messagesResponse
	if err := c.get(ctx, url, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// PostMessage is the fallback send path for degraded connections.
func (c *Client) PostMessage(ctx context.Context, eventID string, req PostMessageRequest) (Message, error) {
	var resp messageResponse
	if err := c.post(ctx, fmt.Sprintf("/events/%s/chat/messages", eventID), req, &resp); err != nil {
		return Message{}, err
	}
	return resp.Message, nil
}

// MarkRead persists the read marker for a room and returns the stored
// lastReadAt timestamp.
func (c *Client) MarkRead(ctx context.Context, eventID string) (int64, error) {
	var resp markReadResponse
	if err := c.post(ctx, fmt.Sprintf("/events/%s/chat/read", eventID), nil, &resp); err != nil {
		return 0, err
	}
	return resp.LastReadAt, nil
}

// UpdateRSVP records an RSVP status change and returns the resulting
// capacity snapshot.
func (c *Client) UpdateRSVP(ctx context.Context, eventID, status string) (CapacityInfo, error) {
	var resp CapacityInfo
	if err := c.post(ctx, fmt.Sprintf("/events/%s/rsvp", eventID), rsvpRequest{Status: status}, &resp); err != nil {
		return CapacityInfo{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.token != nil {
		token, err := c.token(req.Context())
		if err != nil {
			return fmt.Errorf("obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp errorBody
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Code != "" {
			apiErr.Code = errResp.Error.Code
			apiErr.Message = errResp.Error.Message
		} else {
			apiErr.Message = string(body)
		}
		return apiErr
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
