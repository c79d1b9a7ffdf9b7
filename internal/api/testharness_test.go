package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/serverdb"
)

const testPassword = "correct-horse"

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *serverdb.ServerDB
	BaseURL string
	client  *http.Client
	httpSrv *httptest.Server
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	cfg := Config{
		ListenAddr:     ":0",
		ServerDBPath:   dbPath,
		AllowSignup:    true,
		RateLimitAuth:  100000,
		RateLimitSync:  100000,
		RateLimitOther: 100000,
		HistoryKeep:    1000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	httpSrv := httptest.NewServer(srv.Handler())

	h := &TestHarness{
		t:       t,
		Server:  srv,
		Store:   store,
		BaseURL: httpSrv.URL,
		client:  &http.Client{},
		httpSrv: httpSrv,
	}

	t.Cleanup(func() {
		srv.hub.closeAll()
		httpSrv.Close()
		store.Close()
	})

	return h
}

// Do sends an HTTP request and returns the response.
// Caller must close resp.Body unless using an assertion helper that does.
func (h *TestHarness) Do(method, path, token string, body any) *http.Response {
	h.t.Helper()

	var rdr io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		rdr = &buf
	}

	req, err := http.NewRequest(method, h.BaseURL+path, rdr)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("do request %s %s: %v", method, path, err)
	}
	return resp
}

// DoJSON sends an HTTP request and decodes the JSON response into out.
// Fatals if the response status is >= 400 or if JSON decoding fails.
func (h *TestHarness) DoJSON(method, path, token string, body any, out any) {
	h.t.Helper()

	resp := h.Do(method, path, token, body)
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("DoJSON %s %s: expected success, got %d: %s", method, path, resp.StatusCode, respBody)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// Register creates an account and returns its user id.
func (h *TestHarness) Register(username string) string {
	h.t.Helper()
	var resp RegisterResponse
	h.DoJSON("POST", "/auth/register", "", RegisterRequest{Username: username, Password: testPassword}, &resp)
	return resp.UserID
}

// Login returns a token for username bound to deviceID.
func (h *TestHarness) Login(username, deviceID string) string {
	h.t.Helper()
	var resp LoginResponse
	h.DoJSON("POST", "/auth/login", "", LoginRequest{Username: username, Password: testPassword, DeviceID: deviceID}, &resp)
	return resp.Token
}

// CreateUser registers username and logs in from deviceID.
func (h *TestHarness) CreateUser(username, deviceID string) (userID, token string) {
	h.t.Helper()
	userID = h.Register(username)
	return userID, h.Login(username, deviceID)
}

// DialWS opens the live channel with the token passed as a query parameter.
func (h *TestHarness) DialWS(token, deviceID string) *websocket.Conn {
	h.t.Helper()
	u := "ws" + strings.TrimPrefix(h.BaseURL, "http") + "/ws?" +
		url.Values{"token": {token}, "deviceId": {deviceID}}.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		h.t.Fatalf("dial ws: %v", err)
	}
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

// WaitChannels blocks until userID has n open channels.
func (h *TestHarness) WaitChannels(userID string, n int) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Server.hub.count(userID) != n {
		if time.Now().After(deadline) {
			h.t.Fatalf("expected %d channels for %s, have %d", n, userID, h.Server.hub.count(userID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testEntry(id, content string) models.Entry {
	return models.Entry{
		ID:        id,
		Category:  models.CategoryText,
		Content:   content,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		DeviceID:  "dev-a",
	}
}

// --- Response assertion helpers ---

// AssertStatus checks the HTTP status code matches expected and closes the body.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, string(body))
	}
}

// AssertErrorResponse checks the response has the expected status and error code.
func AssertErrorResponse(t *testing.T, resp *http.Response, expectedStatus int, expectedCode string) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.StatusCode, string(body))
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q: %s", expectedCode, errResp.Error.Code, errResp.Error.Message)
	}
}

// ReadJSON decodes a JSON response body into the given type.
func ReadJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json response: %v", err)
	}
	return out
}
