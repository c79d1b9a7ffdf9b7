// Package syncclient talks to the plate-sync server: JSON over HTTP for
// auth and durable storage, a WebSocket channel for live updates.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcus/plate/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")

	errMalformedResponse = errors.New("malformed response")
)

// Client is an HTTP client for the plate-sync server.
type Client struct {
	BaseURL  string
	Token    string
	DeviceID string
	HTTP     *http.Client
	// Timeout bounds each attempt; MaxRetries bounds extra attempts after a
	// transient failure.
	Timeout    time.Duration
	MaxRetries int
	// ChannelIdle is how long the duplex channel may go without any frame
	// from the server before it is considered dead. Zero disables the check.
	ChannelIdle time.Duration
}

// New creates a new sync client.
func New(baseURL, token, deviceID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		Token:       token,
		DeviceID:    deviceID,
		HTTP:        &http.Client{},
		Timeout:     10 * time.Second,
		MaxRetries:  3,
		ChannelIdle: 60 * time.Second,
	}
}

// --- Wire types (mirrors internal/api, independently defined) ---

// LoginResponse is the response from POST /auth/login.
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RegisterResponse is the response from POST /auth/register.
type RegisterResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// SyncResponse is the response from POST /clipboard/sync.
type SyncResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Auth methods ---

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body := map[string]string{"username": username, "password": password, "deviceId": c.DeviceID}
	var resp LoginResponse
	if err := c.doNoAuth(ctx, "POST", "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("login: server returned no token")
	}
	return &resp, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, username, password, email string) (*RegisterResponse, error) {
	body := map[string]string{"username": username, "password": password, "email": email}
	var resp RegisterResponse
	if err := c.doNoAuth(ctx, "POST", "/auth/register", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Clipboard methods ---

// Sync stores one entry on the server.
func (c *Client) Sync(ctx context.Context, entry models.Entry) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.do(ctx, "POST", "/clipboard/sync", entry, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns the user's stored entries, newest first. limit <= 0 uses
// the server default.
func (c *Client) History(ctx context.Context, limit int) ([]models.Entry, error) {
	path := "/clipboard/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var resp []models.Entry
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// statusError is a non-2xx response with no structured body.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

// doRequest runs one logical request, retrying transient failures (network
// errors, 5xx, 429) with exponential backoff. Other 4xx responses fail at once.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(c.MaxRetries, 0))), ctx)

	return backoff.Retry(func() error {
		err := c.attempt(ctx, method, path, payload, result, auth)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, retry)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, result any, auth bool) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return responseError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: %w", errMalformedResponse, err)
		}
	}
	return nil
}

func responseError(status int, body []byte) error {
	var wrapped struct {
		Error apiError `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) != nil || wrapped.Error.Code == "" {
		return &statusError{Status: status, Body: string(bytes.TrimSpace(body))}
	}
	apiErr := wrapped.Error

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, apiErr.Message)
	}
	if status >= 500 || status == http.StatusTooManyRequests {
		return &statusError{Status: status, Body: apiErr.Error()}
	}
	return &apiErr
}

// transient reports whether a failed attempt is worth retrying.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return false
	}
	for _, sentinel := range []error{ErrUnauthorized, ErrForbidden, ErrNotFound, ErrConflict, errMalformedResponse} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	// Network failures and per-attempt timeouts
	return true
}
