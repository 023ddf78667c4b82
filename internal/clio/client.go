// Package clio is a minimal client for the practice-management REST API:
// tasks and calendar entries, consumed strictly through their documented
// request/response contracts.
package clio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
}

// New creates a client. The API enforces per-token rate limits, so outbound
// calls go through a limiter rather than relying on 429 retries.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

type Task struct {
	ID           int64      `json:"id"`
	MatterID     int64      `json:"matter_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	AssigneeID   *int64     `json:"assignee_id,omitempty"`
	AssigneeName string     `json:"assignee_name,omitempty"`
	Status       string     `json:"status,omitempty"`
}

type TaskInput struct {
	MatterID    int64      `json:"matter_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	AssigneeID  *int64     `json:"assignee_id,omitempty"`
}

// TaskUpdate carries a partial update; nil fields are left untouched.
type TaskUpdate struct {
	DueAt      *time.Time `json:"due_at,omitempty"`
	AssigneeID *int64     `json:"assignee_id,omitempty"`
	Status     *string    `json:"status,omitempty"`
}

type CalendarEntry struct {
	ID       int64     `json:"id"`
	MatterID int64     `json:"matter_id"`
	Summary  string    `json:"summary"`
	StartAt  time.Time `json:"start_at"`
}

type CalendarEntryInput struct {
	MatterID int64     `json:"matter_id"`
	Summary  string    `json:"summary"`
	StartAt  time.Time `json:"start_at"`
}

func (c *Client) CreateTask(ctx context.Context, input TaskInput) (Task, error) {
	var out Task
	if err := c.do(ctx, http.MethodPost, "/tasks", envelope{Data: input}, &out); err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return out, nil
}

func (c *Client) UpdateTask(ctx context.Context, id int64, update TaskUpdate) error {
	path := fmt.Sprintf("/tasks/%d", id)
	if err := c.do(ctx, http.MethodPatch, path, envelope{Data: update}, nil); err != nil {
		return fmt.Errorf("update task %d: %w", id, err)
	}
	return nil
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/tasks/%d", id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

func (c *Client) GetTasksByMatter(ctx context.Context, matterID int64) ([]Task, error) {
	var out []Task
	path := fmt.Sprintf("/tasks?matter_id=%d", matterID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("get tasks for matter %d: %w", matterID, err)
	}
	return out, nil
}

func (c *Client) CreateCalendarEntry(ctx context.Context, input CalendarEntryInput) (CalendarEntry, error) {
	var out CalendarEntry
	if err := c.do(ctx, http.MethodPost, "/calendar_entries", envelope{Data: input}, &out); err != nil {
		return CalendarEntry{}, fmt.Errorf("create calendar entry: %w", err)
	}
	return out, nil
}

func (c *Client) DeleteCalendarEntry(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/calendar_entries/%d", id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete calendar entry %d: %w", id, err)
	}
	return nil
}

func (c *Client) GetCalendarEntriesByMatter(ctx context.Context, matterID int64) ([]CalendarEntry, error) {
	var out []CalendarEntry
	path := fmt.Sprintf("/calendar_entries?matter_id=%d", matterID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("get calendar entries for matter %d: %w", matterID, err)
	}
	return out, nil
}

// envelope matches the API convention of wrapping request and response
// bodies in a "data" field.
type envelope struct {
	Data any `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(wrapped.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
