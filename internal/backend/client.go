// Package backend talks to the coordination backend's REST tables and RPC
// functions over HTTP.
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

	"github.com/google/uuid"

	"colab/internal/domain"
)

const DefaultTimeout = 15 * time.Second

var (
	// ErrRejected means the backend answered 200 with a falsy payload.
	ErrRejected = errors.New("backend rejected request")
	// ErrInvalidKey means validation succeeded transport-wise but matched no identity.
	ErrInvalidKey = errors.New("invalid api key")
)

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TransportError wraps network, DNS and timeout failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is a minimal REST/RPC client for the coordination backend.
type Client struct {
	BaseURL    string
	AnonKey    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New creates a client with sane defaults.
func New(baseURL, anonKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		AnonKey: anonKey,
		Timeout: DefaultTimeout,
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// RPC calls a stored procedure and decodes its JSON result into out.
func (c *Client) RPC(ctx context.Context, fn string, body any, out any) error {
	_, err := c.do(ctx, http.MethodPost, "rpc/"+fn, nil, body, nil, out)
	return err
}

// RPCBool calls a stored procedure that answers a JSON boolean. A false (or
// non-boolean) answer is ErrRejected.
func (c *Client) RPCBool(ctx context.Context, fn string, body any) error {
	var raw json.RawMessage
	if err := c.RPC(ctx, fn, body, &raw); err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil || !ok {
		return fmt.Errorf("%w: %s returned %s", ErrRejected, fn, truncate(string(raw), 200))
	}
	return nil
}

// Select reads rows from a table. Filters use the PostgREST syntax, for
// example params.Set("status", "eq.pending").
func (c *Client) Select(ctx context.Context, table string, params url.Values, out any) error {
	_, err := c.do(ctx, http.MethodGet, table, params, nil, nil, out)
	return err
}

// Update patches the rows matched by params. Both 200 and 204 are success.
func (c *Client) Update(ctx context.Context, table string, params url.Values, body any) error {
	_, err := c.do(ctx, http.MethodPatch, table, params, body, map[string]string{"Prefer": "return=minimal"}, nil)
	return err
}

// ValidateKey resolves a credential to its team and identity.
func (c *Client) ValidateKey(ctx context.Context, key string) (domain.KeyInfo, error) {
	var rows []domain.KeyInfo
	if err := c.RPC(ctx, "validate_api_key", map[string]any{"p_key": key}, &rows); err != nil {
		return domain.KeyInfo{}, err
	}
	if len(rows) == 0 {
		return domain.KeyInfo{}, ErrInvalidKey
	}
	return rows[0], nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body any, headers map[string]string, out any) (int, error) {
	if c.HTTPClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.HTTPClient = &http.Client{Timeout: timeout}
	}
	target := c.base() + "/rest/v1/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return 0, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.AnonKey != "" {
		req.Header.Set("apikey", c.AnonKey)
		req.Header.Set("Authorization", "Bearer "+c.AnonKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	log := c.logger().With("method", method, "endpoint", endpoint, "request_id", requestID)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Debug("backend call failed", "error", err)
		return 0, &TransportError{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()
	log.Debug("backend call", "status", resp.StatusCode)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", endpoint, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// Eq builds a PostgREST equality filter value.
func Eq(v string) string { return "eq." + v }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
