package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"invoicely/internal/session"
)

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = errors.New("cli: unauthorized (check gateway.auth.authToken)")

// Client talks to a running server's HTTP API.
type Client struct {
	BaseURL    string // e.g. http://127.0.0.1:8080
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a Client for baseURL authenticating with token (may be empty).
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: defaultHTTPClient,
	}
}

// QR is the /qr response.
type QR struct {
	Status session.Status `json:"status"`
	Code   *string        `json:"qr"`
}

// Status fetches the projected session status.
func (c *Client) Status(ctx context.Context) (session.View, error) {
	var v session.View
	err := c.do(ctx, http.MethodGet, "/status", http.StatusOK, &v)
	return v, err
}

// QR fetches the current pairing payload.
func (c *Client) QR(ctx context.Context) (QR, error) {
	var q QR
	err := c.do(ctx, http.MethodGet, "/qr", http.StatusOK, &q)
	return q, err
}

// Connect asks the server to start a WhatsApp client.
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/connect", http.StatusAccepted, nil)
}

// Disconnect asks the server to end the session and returns its message.
func (c *Client) Disconnect(ctx context.Context) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/disconnect", http.StatusOK, &resp)
	return resp.Message, err
}

func (c *Client) do(ctx context.Context, method, path string, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("cli: %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = defaultHTTPClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("cli: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("cli: %s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("cli: %s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("cli: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cli: %s %s: decode: %w", method, path, err)
	}
	return nil
}
