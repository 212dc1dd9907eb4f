// Package backend is a thin HTTP client for the delivery platform's REST API.
// It covers only the calls the sync layer needs: the one-time socket token,
// the user's chat rooms, and the user's orders.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/metrics"
)

// ErrUnauthorized is returned when the backend rejects the bearer token.
var ErrUnauthorized = errors.New("backend: unauthorized")

// StatusError describes a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Config holds backend connection settings.
type Config struct {
	BaseURL    string
	AuthToken  string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls the platform backend with Bearer authentication and retries
// rate-limited or unavailable responses with exponential backoff.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	logger     *zap.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// SocketToken acquires a short-lived credential for the WebSocket handshake.
func (c *Client) SocketToken(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.get(ctx, "socket_token", "/api/ws/token", &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("socket token response missing token")
	}
	return resp.Token, nil
}

// ListRooms returns every chat room the user participates in.
func (c *Client) ListRooms(ctx context.Context, userID string) ([]Room, error) {
	var rooms []Room
	path := "/api/chat/rooms/user/" + url.PathEscape(userID)
	if err := c.get(ctx, "list_rooms", path, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListOrders returns every order placed by (or routed to) the user.
func (c *Client) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	var orders []Order
	path := "/api/orders/user/" + url.PathEscape(userID)
	if err := c.get(ctx, "list_orders", path, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) get(ctx context.Context, op, path string, result interface{}) error {
	start := time.Now()
	err := c.do(ctx, http.MethodGet, path, result)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordBackendCall(op, status, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, method, path string, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			lastErr = &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: preview(body)}
			if attempt == c.maxRetries {
				return lastErr
			}
			wait := retryAfter(resp, attempt)
			c.logger.Debug("backend throttled, retrying",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: preview(body)}
		}

		if result != nil && len(body) > 0 {
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("decoding %s response: %w", path, err)
			}
		}
		return nil
	}

	return lastErr
}

// retryAfter honours a Retry-After header in seconds, falling back to
// 500ms doubled per attempt.
func retryAfter(resp *http.Response, attempt int) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(500<<attempt) * time.Millisecond
}

func preview(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
