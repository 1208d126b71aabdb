// Package client talks to study-api over HTTP. It is the remote store used by
// the board mirror and the session timer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"study-mate/domain"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("study-api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("study-api: %d %s", e.StatusCode, e.Message)
}

// Client wraps http.Client with helpers for JSON requests.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
	// Stream is used for subscriptions and has no overall timeout.
	Stream *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Stream:  &http.Client{},
	}
}

// GetBoard returns the current board.
func (c *Client) GetBoard(ctx context.Context) (domain.BoardPayload, error) {
	var out domain.BoardPayload
	err := c.do(ctx, http.MethodGet, "/api/board", nil, "", &out)
	return out, err
}

// CreateTask adds a task and returns it.
func (c *Client) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", in, newKey(), &out)
	return out, err
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), patch, newKey(), &out)
	return out, err
}

// MoveTask moves a task to index in the target column.
func (c *Client) MoveTask(ctx context.Context, taskID string, to domain.Status, index int) error {
	_, err := c.MoveTaskBoard(ctx, taskID, to, index)
	return err
}

// MoveTaskBoard moves a task and returns the board the server ended up with.
func (c *Client) MoveTaskBoard(ctx context.Context, taskID string, to domain.Status, index int) (domain.BoardPayload, error) {
	var out domain.BoardPayload
	body := domain.MoveRequest{ToStatus: to, ToIndex: index}
	err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/move", body, newKey(), &out)
	return out, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, newKey(), nil)
}

// CompleteSession records a study session. The server accepts it into a
// queue, so success means the write will eventually be applied.
func (c *Client) CompleteSession(ctx context.Context, rec domain.SessionRecord) error {
	return c.do(ctx, http.MethodPost, "/api/sessions", rec, newKey(), nil)
}

// ListSessions returns the most recent sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	path := "/api/sessions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.Session
	err := c.do(ctx, http.MethodGet, path, nil, "", &out)
	return out, err
}

// GetStats returns the session statistics.
func (c *Client) GetStats(ctx context.Context) (domain.Stats, error) {
	var out domain.Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, "", &out)
	return out, err
}

// GetSettings returns the user's settings.
func (c *Client) GetSettings(ctx context.Context) (domain.Settings, error) {
	var out domain.Settings
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, "", &out)
	return out, err
}

// UpdateSettings stores new settings and returns what was saved.
func (c *Client) UpdateSettings(ctx context.Context, s domain.Settings) (domain.Settings, error) {
	var out domain.Settings
	err := c.do(ctx, http.MethodPut, "/api/settings", s, newKey(), &out)
	return out, err
}

func newKey() string { return uuid.NewString() }

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, err
		}
		rd = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idemKey string, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func readError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string            `json:"message"`
		Errors  map[string]string `json:"errors"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		apiErr.Message = body.Message
		for field, msg := range body.Errors {
			apiErr.Message += "; " + field + ": " + msg
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
