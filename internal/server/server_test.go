package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/hub"
	"github.com/parlorchat/parlor/internal/server"
)

const testOrigin = "http://client.test"

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.New(hub.Options{RateBurst: 1000})
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(2 * time.Second) })

	cfg := config.Default()
	cfg.AllowedOrigins = []string{testOrigin}
	ts := httptest.NewServer(server.New(cfg, h).Handler())
	t.Cleanup(ts.Close)
	return ts, h
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func send(t *testing.T, conn *websocket.Conn, payload map[string]any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// join drives one connection through the full handshake and drains the
// welcome sequence.
func join(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	ev := readEvent(t, conn)
	require.Equal(t, "requestFingerprint", ev["type"])

	send(t, conn, map[string]any{"type": "fingerprint", "fingerprint": "fp-" + username})
	send(t, conn, map[string]any{"type": "join", "username": username, "color": "#336699"})

	ev = readEvent(t, conn)
	require.Equal(t, "history", ev["type"])
	ev = readEvent(t, conn)
	require.Equal(t, "userList", ev["type"])
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snapshot map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	require.Contains(t, snapshot, "active_sessions")
}

func TestUpgradeRejectsDisallowedOrigin(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestJoinHandshakeDeliversHistoryAndRoster(t *testing.T) {
	ts, _ := newTestServer(t)
	conn := dial(t, ts)
	join(t, conn, "alice")
}

func TestJoinVisibleToEarlierClients(t *testing.T) {
	ts, _ := newTestServer(t)
	first := dial(t, ts)
	join(t, first, "alice")

	second := dial(t, ts)
	join(t, second, "bob")

	// The earlier client sees the refreshed roster and the arrival.
	ev := readEvent(t, first)
	require.Equal(t, "userList", ev["type"])
	require.Equal(t, float64(2), ev["count"])

	ev = readEvent(t, first)
	require.Equal(t, "userJoined", ev["type"])
	user, ok := ev["user"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "bob", user["username"])
}

func TestMessageBroadcastRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := dial(t, ts)
	join(t, alice, "alice")
	bob := dial(t, ts)
	join(t, bob, "bob")
	readEvent(t, alice) // roster refresh for bob's arrival
	readEvent(t, alice) // userJoined

	send(t, alice, map[string]any{"type": "message", "content": "hello room"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readEvent(t, conn)
		require.Equal(t, "message", ev["type"])
		msg, ok := ev["message"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "alice", msg["author"])
		require.Equal(t, "hello room", msg["content"])
		require.NotEmpty(t, msg["id"])
	}
}

func TestDirectMessageReachesBothParties(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := dial(t, ts)
	join(t, alice, "alice")
	bob := dial(t, ts)
	join(t, bob, "bob")
	readEvent(t, alice)
	readEvent(t, alice)

	send(t, alice, map[string]any{"type": "dmMessage", "targetUsername": "bob", "content": "secret"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readEvent(t, conn)
		require.Equal(t, "dmMessage", ev["type"])
		msg, ok := ev["message"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "alice", msg["from"])
		require.Equal(t, "bob", msg["to"])
		require.Equal(t, "secret", msg["content"])
	}
}

func TestDMToOfflineUserReturnsError(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := dial(t, ts)
	join(t, alice, "alice")

	send(t, alice, map[string]any{"type": "dmMessage", "targetUsername": "ghost", "content": "anyone?"})
	ev := readEvent(t, alice)
	require.Equal(t, "dmError", ev["type"])
	require.Contains(t, ev["error"], "ghost")
}

// TestBanCommandClosesWithPolicyViolation bans the loopback address,
// which covers the issuer too. The issuer should receive the command
// result and then a policy-violation close, not a normal closure.
func TestBanCommandClosesWithPolicyViolation(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := dial(t, ts)
	join(t, alice, "alice")

	send(t, alice, map[string]any{"type": "message", "content": "/pb 127.0.0.1"})

	ev := readEvent(t, alice)
	require.Equal(t, "commandResult", ev["type"])
	require.Equal(t, true, ev["success"])

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := alice.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected policy violation close, got %v", err)
}

func TestBannedAddressRefusedAtConnect(t *testing.T) {
	ts, h := newTestServer(t)
	alice := dial(t, ts)
	join(t, alice, "alice")
	send(t, alice, map[string]any{"type": "message", "content": "/pb 127.0.0.1"})
	readEvent(t, alice) // command result

	// Upgrade still succeeds; the hub closes immediately afterwards.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{testOrigin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"expected policy violation close, got %v", err)
	require.GreaterOrEqual(t, h.Metrics().Snapshot().PolicyDisconnects, int64(2))
}

func TestUnknownRouteReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + fmt.Sprintf("/nope-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
