package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/plate/internal/models"
)

func TestHealthz(t *testing.T) {
	h := newTestHarness(t)
	body := ReadJSON[map[string]string](t, h.Do("GET", "/healthz", "", nil))
	assert.Equal(t, "ok", body["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	h := newTestHarness(t)

	resp := h.Do("POST", "/auth/register", "", RegisterRequest{Username: "alice", Password: testPassword, Email: "Alice@Example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reg := ReadJSON[RegisterResponse](t, resp)
	assert.Equal(t, "alice", reg.Username)
	assert.NotEmpty(t, reg.UserID)

	var login LoginResponse
	h.DoJSON("POST", "/auth/login", "", LoginRequest{Username: "alice", Password: testPassword, DeviceID: "dev-a"}, &login)
	assert.Equal(t, reg.UserID, login.UserID)
	assert.True(t, strings.HasPrefix(login.Token, "plate_"), "token %q", login.Token)

	user, err := h.Store.GetUserByUsername("alice")
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, user.PasswordHash)
}

func TestRegisterDuplicate(t *testing.T) {
	h := newTestHarness(t)
	h.Register("bob")
	AssertErrorResponse(t, h.Do("POST", "/auth/register", "", RegisterRequest{Username: "BOB", Password: testPassword}), http.StatusConflict, ErrCodeConflict)
}

func TestRegisterValidation(t *testing.T) {
	h := newTestHarness(t)
	AssertErrorResponse(t, h.Do("POST", "/auth/register", "", RegisterRequest{Username: "", Password: testPassword}), http.StatusBadRequest, ErrCodeBadRequest)
	AssertErrorResponse(t, h.Do("POST", "/auth/register", "", RegisterRequest{Username: "carol", Password: "short"}), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestRegisterSignupDisabled(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.AllowSignup = false })
	AssertErrorResponse(t, h.Do("POST", "/auth/register", "", RegisterRequest{Username: "dave", Password: testPassword}), http.StatusForbidden, ErrCodeSignupDisabled)
}

func TestLoginWrongPassword(t *testing.T) {
	h := newTestHarness(t)
	h.Register("erin")
	AssertErrorResponse(t, h.Do("POST", "/auth/login", "", LoginRequest{Username: "erin", Password: "nope-nope"}), http.StatusUnauthorized, ErrCodeUnauthorized)
	AssertErrorResponse(t, h.Do("POST", "/auth/login", "", LoginRequest{Username: "ghost", Password: testPassword}), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestLoginRevokesPreviousDeviceToken(t *testing.T) {
	h := newTestHarness(t)
	h.Register("frank")
	first := h.Login("frank", "dev-a")
	other := h.Login("frank", "dev-b")
	second := h.Login("frank", "dev-a")

	AssertErrorResponse(t, h.Do("GET", "/clipboard/history", first, nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	AssertStatus(t, h.Do("GET", "/clipboard/history", second, nil), http.StatusOK)
	AssertStatus(t, h.Do("GET", "/clipboard/history", other, nil), http.StatusOK)
}

func TestTokenTTL(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.TokenTTL = time.Hour })
	userID, token := h.CreateUser("gina", "dev-a")

	keys, err := h.Store.ListAPIKeys(userID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotNil(t, keys[0].ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *keys[0].ExpiresAt, time.Minute)
	assert.Equal(t, "dev-a", keys[0].DeviceID)

	AssertStatus(t, h.Do("GET", "/clipboard/history", token, nil), http.StatusOK)
}

func TestClipboardRequiresAuth(t *testing.T) {
	h := newTestHarness(t)
	AssertErrorResponse(t, h.Do("GET", "/clipboard/history", "", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
	AssertErrorResponse(t, h.Do("POST", "/clipboard/sync", "bogus", testEntry("a", "x")), http.StatusUnauthorized, ErrCodeUnauthorized)

	req, err := http.NewRequest("GET", h.BaseURL+"/clipboard/history", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Basic abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	AssertErrorResponse(t, resp, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestSyncAndHistory(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("hank", "dev-a")

	older := testEntry("e1", "first")
	newer := testEntry("e2", "second")
	newer.Timestamp = older.Timestamp.Add(time.Minute)
	newer.DeviceID = ""

	for _, e := range []models.Entry{older, newer} {
		resp := ReadJSON[SyncResponse](t, h.Do("POST", "/clipboard/sync", token, e))
		assert.Equal(t, SyncResponse{ID: e.ID, Accepted: true}, resp)
	}

	history := ReadJSON[[]models.Entry](t, h.Do("GET", "/clipboard/history", token, nil))
	require.Len(t, history, 2)
	assert.Equal(t, "e2", history[0].ID)
	assert.Equal(t, "dev-a", history[0].DeviceID, "missing device id is taken from the token")
	assert.Equal(t, "e1", history[1].ID)

	limited := ReadJSON[[]models.Entry](t, h.Do("GET", "/clipboard/history?limit=1", token, nil))
	require.Len(t, limited, 1)
	assert.Equal(t, "e2", limited[0].ID)

	AssertErrorResponse(t, h.Do("GET", "/clipboard/history?limit=zero", token, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestHistoryEmptyIsArray(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("ivy", "dev-a")

	resp := h.Do("GET", "/clipboard/history", token, nil)
	defer resp.Body.Close()
	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", string(raw))
}

func TestSyncRejectsInvalidEntry(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("jack", "dev-a")

	noID := testEntry("", "x")
	badCat := testEntry("e1", "x")
	badCat.Category = "video"
	noTime := testEntry("e2", "x")
	noTime.Timestamp = time.Time{}

	for name, e := range map[string]models.Entry{"no id": noID, "bad category": badCat, "no timestamp": noTime} {
		t.Run(name, func(t *testing.T) {
			AssertErrorResponse(t, h.Do("POST", "/clipboard/sync", token, e), http.StatusBadRequest, ErrCodeBadRequest)
		})
	}
}

func TestSyncPrunesToHistoryKeep(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) { cfg.HistoryKeep = 2 })
	userID, token := h.CreateUser("kate", "dev-a")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		e := testEntry(id, id)
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		AssertStatus(t, h.Do("POST", "/clipboard/sync", token, e), http.StatusOK)
	}

	n, err := h.Store.CountEntries(userID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHistoryScopedToUser(t *testing.T) {
	h := newTestHarness(t)
	_, tokenA := h.CreateUser("lena", "dev-a")
	_, tokenB := h.CreateUser("mike", "dev-b")

	AssertStatus(t, h.Do("POST", "/clipboard/sync", tokenA, testEntry("secret", "x")), http.StatusOK)
	history := ReadJSON[[]models.Entry](t, h.Do("GET", "/clipboard/history", tokenB, nil))
	assert.Empty(t, history)
}

func TestMetricz(t *testing.T) {
	h := newTestHarness(t)
	_, token := h.CreateUser("nina", "dev-a")
	AssertStatus(t, h.Do("POST", "/clipboard/sync", token, testEntry("e1", "x")), http.StatusOK)
	AssertStatus(t, h.Do("GET", "/clipboard/history", token, nil), http.StatusOK)
	AssertStatus(t, h.Do("GET", "/nowhere", "", nil), http.StatusNotFound)

	snap := ReadJSON[MetricsSnapshot](t, h.Do("GET", "/metricz", "", nil))
	assert.EqualValues(t, 1, snap.EntriesAccepted)
	assert.EqualValues(t, 1, snap.HistoryRequests)
	assert.GreaterOrEqual(t, snap.ClientErrors, int64(1))
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHarness(t)
	resp := h.Do("GET", "/healthz", "", nil)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 32)
}

func readFrame(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWSRequiresToken(t *testing.T) {
	h := newTestHarness(t)
	u := "ws" + strings.TrimPrefix(h.BaseURL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSBroadcastIncludesSender(t *testing.T) {
	h := newTestHarness(t)
	userID, tokenA := h.CreateUser("olga", "dev-a")
	tokenB := h.Login("olga", "dev-b")
	_, tokenOther := h.CreateUser("pete", "dev-c")

	connA := h.DialWS(tokenA, "dev-a")
	connB := h.DialWS(tokenB, "dev-b")
	connOther := h.DialWS(tokenOther, "dev-c")
	h.WaitChannels(userID, 2)

	e := testEntry("live-1", "hello")
	e.DeviceID = ""
	data, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, connA.WriteJSON(wsMessage{Type: messageClipboardUpdate, Data: data}))

	for _, conn := range []*websocket.Conn{connA, connB} {
		msg := readFrame(t, conn)
		assert.Equal(t, messageClipboardUpdate, msg.Type)
		var got models.Entry
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "live-1", got.ID)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, "dev-a", got.DeviceID, "device id is stamped from the sender's channel")
	}

	require.NoError(t, connOther.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = connOther.ReadMessage()
	assert.Error(t, err, "other users receive nothing")

	history := ReadJSON[[]models.Entry](t, h.Do("GET", "/clipboard/history", tokenB, nil))
	require.Len(t, history, 1)
	assert.Equal(t, "live-1", history[0].ID)
}

func TestWSIgnoresBadFrames(t *testing.T) {
	h := newTestHarness(t)
	userID, token := h.CreateUser("quinn", "dev-a")
	conn := h.DialWS(token, "dev-a")
	h.WaitChannels(userID, 1)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "presence"}))
	require.NoError(t, conn.WriteJSON(wsMessage{Type: messageClipboardUpdate, Data: json.RawMessage(`{"id":""}`)}))

	good, err := json.Marshal(testEntry("ok", "fine"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: messageClipboardUpdate, Data: good}))

	msg := readFrame(t, conn)
	var got models.Entry
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "ok", got.ID, "the first frame back is the valid update")
}

func TestWSChannelCountDropsOnClose(t *testing.T) {
	h := newTestHarness(t)
	userID, token := h.CreateUser("rosa", "dev-a")
	conn := h.DialWS(token, "dev-a")
	h.WaitChannels(userID, 1)

	conn.Close()
	h.WaitChannels(userID, 0)
	assert.EqualValues(t, 0, h.Server.metrics.Snapshot().OpenChannels)
}
