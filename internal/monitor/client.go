// Package monitor is the client side of the crewd dashboard API: a typed
// HTTP client and the live terminal view behind `crewctl top`.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	crewhttp "github.com/fyrsmithlabs/crewd/internal/http"
)

// maxErrorBody bounds how much of a failed response ends up in an APIError.
const maxErrorBody = 4096

// Client calls the dashboard API.
type Client struct {
	baseURL string
	client  *http.Client
}

// APIError is a non-2xx reply from the dashboard.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a client for the dashboard at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the dashboard address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*crewhttp.HealthResponse, error) {
	var out crewhttp.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status calls GET /api/status.
func (c *Client) Status(ctx context.Context) (*crewhttp.StatusResponse, error) {
	var out crewhttp.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Trigger calls POST /api/run for issue.
func (c *Client) Trigger(ctx context.Context, issue int) (*crewhttp.RunResponse, error) {
	var out crewhttp.RunResponse
	if err := c.do(ctx, http.MethodPost, "/api/run", crewhttp.RunRequest{IssueNumber: issue}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetUsage calls POST /api/usage/reset.
func (c *Client) ResetUsage(ctx context.Context) (*crewhttp.UsageResetResponse, error) {
	var out crewhttp.UsageResetResponse
	if err := c.do(ctx, http.MethodPost, "/api/usage/reset", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response body: %v", err)}
	}
	var body crewhttp.ErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: body.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
