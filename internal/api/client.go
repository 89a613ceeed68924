package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	"github.com/smartdocai/smartdoc-web-ui/internal/stream"
)

// TokenSource supplies the bearer token for backend requests. Tokens come
// from locally persisted credentials; refresh is outside this package.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// FileToken is a TokenSource reading the token from a credentials file on
// every call, so an externally refreshed token is picked up without a
// restart.
type FileToken string

// Token implements TokenSource.
func (t FileToken) Token() (string, error) {
	raw, err := os.ReadFile(string(t))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, e.Body)
}

// ChatPage is one page of the recent-chats listing.
type ChatPage struct {
	Results     []models.Chat `json:"results"`
	TotalPages  int           `json:"total_pages"`
	TotalCount  int           `json:"total_count"`
	HasNext     bool          `json:"has_next"`
	CurrentPage int           `json:"current_page"`
}

// Client talks to the document backend's REST and streaming endpoints.
type Client struct {
	baseURL string
	token   TokenSource
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, token TokenSource, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "api")),
	}
}

// OpenChatStream submits a chat query and returns the response body carrying
// the event stream. The caller owns the body and must close it; cancelling
// ctx aborts the request. A non-2xx response is returned as a *StatusError.
func (c *Client) OpenChatStream(ctx context.Context, chatReq stream.ChatRequest) (io.ReadCloser, error) {
	jsonBody, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/documents/chat", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return resp.Body, nil
}

// History fetches the ordered transcript of an existing chat.
func (c *Client) History(ctx context.Context, chatID string) ([]models.Message, error) {
	var messages []models.Message
	if err := c.getJSON(ctx, fmt.Sprintf("/api/chats/%s/messages", chatID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Chats fetches one page of the recent-chats listing.
func (c *Client) Chats(ctx context.Context, page, pageSize int) (ChatPage, error) {
	var chatPage ChatPage
	path := fmt.Sprintf("/api/chats?page=%d&page_size=%d", page, pageSize)
	if err := c.getJSON(ctx, path, &chatPage); err != nil {
		return ChatPage{}, err
	}
	return chatPage, nil
}

// DeleteChat removes a chat by id.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+fmt.Sprintf("/api/chats/%s", chatID), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.token.Token()
	if err != nil {
		return fmt.Errorf("error reading access token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
