// Chatsync - Real-Time Chat Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatsync

/*
client.go - Chat REST API Client

The REST API is the source of truth for rooms and message durability. The
websocket stream is only a best-effort low-latency push channel beside it.
*/

// Package api implements the client for the chat REST collaborator.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chatsync/internal/metrics"
	"github.com/tomtom215/chatsync/internal/models"
)

// Client defines the REST collaborator operations the state store depends
// on. Both RESTClient and BreakerClient implement this interface.
type Client interface {
	ListRooms(ctx context.Context) ([]models.Room, error)
	GetMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error)
	SendMessage(ctx context.Context, roomID, content string) (*models.Message, error)
	MarkRead(ctx context.Context, roomID string) error
	CreateRoom(ctx context.Context, recipientID, initialMessage string) (*models.Room, error)
	UnreadCount(ctx context.Context) (int, error)
}

// Ensure RESTClient implements Client
var _ Client = (*RESTClient)(nil)

// TokenProvider returns the current bearer token. It is re-read on every
// request so a token refresh is honored without rebuilding the client.
type TokenProvider func() string

// RESTClient talks to the chat REST API.
type RESTClient struct {
	baseURL    string
	token      TokenProvider
	httpClient *http.Client
}

// NewRESTClient creates a chat REST API client.
//
// Parameters:
//   - baseURL: API root, e.g. https://chat.example.com/api
//   - token: bearer token provider; must not be nil
//   - timeout: per-request timeout
func NewRESTClient(baseURL string, token TokenProvider, timeout time.Duration) *RESTClient {
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// unreadCountResponse is the envelope for the unread count endpoint.
type unreadCountResponse struct {
	Count int `json:"count"`
}

// sendMessageRequest is the body for the send endpoint.
type sendMessageRequest struct {
	Content string `json:"content"`
}

// createRoomRequest is the body for the room-creation endpoint.
type createRoomRequest struct {
	RecipientID    string `json:"recipient_id"`
	InitialMessage string `json:"initial_message,omitempty"`
}

// ListRooms retrieves the user's room list with previews and unread counts.
func (c *RESTClient) ListRooms(ctx context.Context) ([]models.Room, error) {
	defer observe("list_rooms")()

	resp, err := c.doRequest(ctx, http.MethodGet, "/rooms", nil)
	if err != nil {
		return nil, fmt.Errorf("list rooms request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, "list rooms"); err != nil {
		return nil, err
	}

	var rooms []models.Room
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("failed to decode room list: %w", err)
	}

	return rooms, nil
}

// GetMessages retrieves a room's message history, server-ordered oldest
// first. The caller applies the result as a full replace, not a merge.
func (c *RESTClient) GetMessages(ctx context.Context, roomID string, limit, offset int) ([]models.Message, error) {
	defer observe("get_messages")()

	endpoint := fmt.Sprintf("/rooms/%s/messages?limit=%s&offset=%s",
		url.PathEscape(roomID), strconv.Itoa(limit), strconv.Itoa(offset))

	resp, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("get messages request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, "get messages"); err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	return messages, nil
}

// SendMessage persists a message via REST and returns the server's message
// object (with its assigned id and timestamp).
func (c *RESTClient) SendMessage(ctx context.Context, roomID, content string) (*models.Message, error) {
	defer observe("send_message")()

	endpoint := fmt.Sprintf("/rooms/%s/messages", url.PathEscape(roomID))

	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, sendMessageRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("send message request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, "send message"); err != nil {
		return nil, err
	}

	var msg models.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode sent message: %w", err)
	}

	return &msg, nil
}

// MarkRead marks all messages in a room as read.
func (c *RESTClient) MarkRead(ctx context.Context, roomID string) error {
	defer observe("mark_read")()

	endpoint := fmt.Sprintf("/rooms/%s/read", url.PathEscape(roomID))

	resp, err := c.doRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("mark read request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return checkStatus(resp, "mark read")
}

// CreateRoom creates (or returns the existing) room with a counterpart.
// The server side is idempotent: creating a room with an existing
// counterpart returns the existing room.
func (c *RESTClient) CreateRoom(ctx context.Context, recipientID, initialMessage string) (*models.Room, error) {
	defer observe("create_room")()

	body := createRoomRequest{RecipientID: recipientID, InitialMessage: initialMessage}

	resp, err := c.doRequest(ctx, http.MethodPost, "/rooms", body)
	if err != nil {
		return nil, fmt.Errorf("create room request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, "create room"); err != nil {
		return nil, err
	}

	var room models.Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return nil, fmt.Errorf("failed to decode created room: %w", err)
	}

	return &room, nil
}

// UnreadCount retrieves the global unread message count.
func (c *RESTClient) UnreadCount(ctx context.Context) (int, error) {
	defer observe("unread_count")()

	resp, err := c.doRequest(ctx, http.MethodGet, "/messages/unread", nil)
	if err != nil {
		return 0, fmt.Errorf("unread count request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, "unread count"); err != nil {
		return 0, err
	}

	var out unreadCountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode unread count: %w", err)
	}

	return out.Count, nil
}

// doRequest performs an HTTP request against the chat API. A non-nil body
// is JSON-encoded.
func (c *RESTClient) doRequest(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	fullURL := c.baseURL + endpoint

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// checkStatus converts a non-2xx response into an error carrying a body
// excerpt for diagnosis.
func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body)", op, resp.StatusCode)
	}
	return fmt.Errorf("%s returned status %d: %s", op, resp.StatusCode, string(body))
}

// observe times a REST operation for the request-duration histogram.
func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.APIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
