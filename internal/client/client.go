// Package client provides an HTTP client for the Parley server's admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/scheduler"
)

// Client talks to a running parley-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If endpoint is empty, uses the PARLEY_SERVER_URL env
// var or defaults to localhost:8080.
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("PARLEY_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}

	return &Client{
		baseURL: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// SchedulerStatus fetches the scheduler's run state and configuration.
func (c *Client) SchedulerStatus(ctx context.Context) (*scheduler.Status, error) {
	var status scheduler.Status
	if err := c.do(ctx, http.MethodGet, "/scheduler/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health fetches the server's health view.
func (c *Client) Health(ctx context.Context) (*scheduler.Health, error) {
	var health scheduler.Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Stats fetches the runtime metrics snapshot.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Sweep triggers one archival sweep and returns its outcome.
func (c *Client) Sweep(ctx context.Context) (*scheduler.TickStats, error) {
	var stats scheduler.TickStats
	if err := c.do(ctx, http.MethodPost, "/scheduler/sweep", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DeleteConversation removes a live conversation and its marker.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	if !env.Success {
		if env.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload from %s: %w", path, err)
		}
	}
	return nil
}
