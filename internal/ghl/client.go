// Package ghl is a minimal client for the CRM contact API.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

type Contact struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type ContactUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

func (c *Client) GetContact(ctx context.Context, id string) (Contact, error) {
	var out struct {
		Contact Contact `json:"contact"`
	}
	if err := c.do(ctx, http.MethodGet, "/contacts/"+url.PathEscape(id), nil, &out); err != nil {
		return Contact{}, fmt.Errorf("get contact %s: %w", id, err)
	}
	return out.Contact, nil
}

func (c *Client) SearchContactByEmail(ctx context.Context, email string) ([]Contact, error) {
	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	path := "/contacts/lookup?email=" + url.QueryEscape(email)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("search contact by email: %w", err)
	}
	return out.Contacts, nil
}

func (c *Client) UpdateContact(ctx context.Context, id string, update ContactUpdate) error {
	if err := c.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(id), update, nil); err != nil {
		return fmt.Errorf("update contact %s: %w", id, err)
	}
	return nil
}

func (c *Client) CreateNote(ctx context.Context, contactID, body string) error {
	payload := map[string]string{"body": body}
	path := "/contacts/" + url.PathEscape(contactID) + "/notes"
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("create note for contact %s: %w", contactID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
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
	req.Header.Set("Version", "2021-07-28")
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
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
