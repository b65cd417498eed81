// Package backend provides the HTTP client for the remote pocketforge API:
// projects, files, prompts, conversations and deployments.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPromptTimeout  = 90 * time.Second
	maxErrorBodySize      = 64 << 10
)

// Client talks to the remote API.
type Client struct {
	baseURL        *url.URL
	token          string
	httpClient     *http.Client
	requestTimeout time.Duration
	promptTimeout  time.Duration
	logger         *slog.Logger
}

// ClientConfig holds configuration for the API client.
type ClientConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	PromptTimeout  time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend url must be absolute: %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL:        base,
		token:          cfg.Token,
		httpClient:     cfg.HTTPClient,
		requestTimeout: cfg.RequestTimeout,
		promptTimeout:  cfg.PromptTimeout,
		logger:         cfg.Logger,
	}
	if c.httpClient == nil {
		// Per-call deadlines come from the context, not the client.
		c.httpClient = &http.Client{}
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.promptTimeout <= 0 {
		c.promptTimeout = defaultPromptTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// PromptTimeout returns the deadline applied to prompt round trips.
func (c *Client) PromptTimeout() time.Duration {
	return c.promptTimeout
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, c.requestTimeout)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out, c.requestTimeout)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out, c.requestTimeout)
}

func (c *Client) delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out, c.requestTimeout)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w after %s", method, path, ErrTimeout, timeout)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "path", path, "error", closeErr)
		}
	}()

	c.logger.Debug("Backend request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w after %s", method, path, ErrTimeout, timeout)
		}
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func projectPath(projectID string, parts ...string) string {
	path := "/api/projects/" + url.PathEscape(projectID)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}
