package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goodtune/autokey/internal/auth"
	"github.com/goodtune/autokey/internal/scheduler"
)

// APIError is a non-2xx response from the control server.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("control api: %s", e.Message)
}

// Client talks to a running daemon.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a client for addr, either host:port or a full URL.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid control address: %w", err)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Status returns the daemon's snapshot.
func (c *Client) Status(ctx context.Context) (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	err := c.do(ctx, http.MethodGet, "/status", nil, &snap)
	return snap, err
}

// Start starts the scheduler.
func (c *Client) Start(ctx context.Context, req StartRequest) (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	err := c.do(ctx, http.MethodPost, "/start", req, &snap)
	return snap, err
}

// Stop stops the scheduler.
func (c *Client) Stop(ctx context.Context) (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	err := c.do(ctx, http.MethodPost, "/stop", nil, &snap)
	return snap, err
}

// Reset clears settings and state on the daemon.
func (c *Client) Reset(ctx context.Context) (scheduler.Snapshot, error) {
	var snap scheduler.Snapshot
	err := c.do(ctx, http.MethodPost, "/reset", nil, &snap)
	return snap, err
}

// Verify runs an authorization check on the daemon.
func (c *Client) Verify(ctx context.Context) (auth.Verdict, error) {
	var v auth.Verdict
	err := c.do(ctx, http.MethodPost, "/verify", nil, &v)
	return v, err
}

// Settings lists every setting with its effective value.
func (c *Client) Settings(ctx context.Context) ([]Setting, error) {
	var resp SettingsResponse
	if err := c.do(ctx, http.MethodGet, "/settings", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// SetSetting updates one setting.
func (c *Client) SetSetting(ctx context.Context, key, value string) (Setting, error) {
	var s Setting
	err := c.do(ctx, http.MethodPut, "/settings/"+url.PathEscape(key), SettingRequest{Value: value}, &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Code: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
