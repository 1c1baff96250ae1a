// Package client talks to the message backend over HTTP and websockets. A
// Client is the chat.Repository used by terminal sessions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/carelink/wardchat/chat"
)

// pageSize matches the page size of the backend's message listing.
const pageSize = 50

// DefaultMaxPages bounds FetchOnce when MaxPages is not set.
const DefaultMaxPages = 20

// A Client is a chat.Repository backed by the message API.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Logger   *slog.Logger
	MaxPages int
}

// New returns a client for the API at baseURL, e.g. http://localhost:8080.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     http.DefaultClient,
		Logger:   logger,
		MaxPages: DefaultMaxPages,
	}
}

// An apiError is a non-successful response of the message API.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("%s (http status %d)", e.Message, e.Status)
}

func (c *Client) groupURL(groupID string, elem ...string) string {
	parts := append([]string{c.BaseURL, "groups", url.PathEscape(groupID)}, elem...)
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, u string, body any, want int, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetGroup returns the group with the given id.
func (c *Client) GetGroup(ctx context.Context, groupID string) (chat.Group, error) {
	var g chat.Group
	if err := c.do(ctx, http.MethodGet, c.groupURL(groupID), nil, http.StatusOK, &g); err != nil {
		return chat.Group{}, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// FetchOnce pages through the group's messages until a short page or
// MaxPages is reached.
func (c *Client) FetchOnce(ctx context.Context, groupID string) ([]chat.Message, error) {
	type response struct {
		Messages []chat.Message `json:"messages"`
	}

	maxPages := c.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	seen := make(map[string]bool)
	out := []chat.Message{}
	for page := 1; page <= maxPages; page++ {
		var resp response
		u := c.groupURL(groupID, "messages") + "?page=" + strconv.Itoa(page)
		if err := c.do(ctx, http.MethodGet, u, nil, http.StatusOK, &resp); err != nil {
			return nil, fmt.Errorf("fetch messages: %w", err)
		}
		for _, m := range resp.Messages {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			m.Kind = chat.Confirmed
			out = append(out, m)
		}
		if len(resp.Messages) < pageSize {
			break
		}
		if page == maxPages {
			c.Logger.Warn("Message history truncated", "group_id", groupID, "pages", maxPages)
		}
	}
	return out, nil
}

// Send posts a message and returns it as stored by the backend.
func (c *Client) Send(ctx context.Context, groupID string, out chat.Outgoing) (chat.Message, error) {
	var m chat.Message
	if err := c.do(ctx, http.MethodPost, c.groupURL(groupID, "messages"), out, http.StatusCreated, &m); err != nil {
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}
	m.Kind = chat.Confirmed
	return m, nil
}

// MarkRead records that viewerID read the message.
func (c *Client) MarkRead(ctx context.Context, groupID, messageID, viewerID string) error {
	body := struct {
		ViewerID string `json:"viewer_id"`
	}{ViewerID: viewerID}
	u := c.groupURL(groupID, "messages", url.PathEscape(messageID), "read")
	if err := c.do(ctx, http.MethodPost, u, body, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
