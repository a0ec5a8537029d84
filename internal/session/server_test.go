package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, maxConns int) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := &Server{
		Hub:   newTestHub(maxConns, 60),
		Allow: func(roomID string) bool { return roomID == "room-test12345" },
		Path:  "/rooms/room-test12345/ws",
	}
	ts := httptest.NewServer(srv.Router(context.Background(), "test"))
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/room-test12345/ws"
	return ts, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 2000)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["path"] != "/rooms/room-test12345/ws" {
		t.Errorf("path = %v", body["path"])
	}
	if _, ok := body["connections"]; !ok {
		t.Error("health payload missing connections")
	}
	if _, ok := body["uptime"]; !ok {
		t.Error("health payload missing uptime")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, 2000)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWS_UnknownRoomRejected(t *testing.T) {
	ts, _ := newTestServer(t, 2000)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rooms/room-otherone1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dialing a foreign room id should fail the handshake")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %+v, want 404", resp)
	}
}

func TestWS_CreateJoinBroadcast(t *testing.T) {
	_, wsURL := newTestServer(t, 2000)

	host := dial(t, wsURL)
	send(t, host, map[string]any{"type": EvCreateRoom, "roomName": "math101"})
	reply := recv(t, host)
	if reply["type"] != EvCreateSuccess || reply["roomName"] != "MATH101" {
		t.Fatalf("create reply = %v", reply)
	}

	guest := dial(t, wsURL)
	send(t, guest, map[string]any{"type": EvJoinRoom, "enteredRoomName": "MATH101", "username": "alice"})
	if reply := recv(t, guest); reply["type"] != EvJoinSuccess {
		t.Fatalf("join reply = %v", reply)
	}
	joined := recv(t, host)
	if joined["type"] != EvUserJoined || joined["name"] != "alice" {
		t.Fatalf("host notification = %v", joined)
	}

	send(t, host, map[string]any{
		"type":     EvNextQuestion,
		"roomName": "MATH101",
		"question": map[string]any{"id": 1, "label": "2+2?"},
	})
	q := recv(t, guest)
	if q["type"] != EvNextQuestion {
		t.Fatalf("guest got %v, want next-question", q)
	}
	question, ok := q["question"].(map[string]any)
	if !ok || question["label"] != "2+2?" {
		t.Errorf("question payload altered: %v", q["question"])
	}
}

func TestWS_JoinFailureForUnknownRoom(t *testing.T) {
	_, wsURL := newTestServer(t, 2000)

	guest := dial(t, wsURL)
	send(t, guest, map[string]any{"type": EvJoinRoom, "enteredRoomName": "NOPE", "username": "bob"})
	reply := recv(t, guest)
	if reply["type"] != EvJoinFailure {
		t.Fatalf("reply = %v, want join-failure", reply)
	}
	if reply["reason"] == "" {
		t.Error("join-failure should carry a reason")
	}
}

func TestWS_ConnectionLimit(t *testing.T) {
	_, wsURL := newTestServer(t, 1)

	first := dial(t, wsURL)
	// The slot is taken synchronously during the handshake handler, but
	// give the server a beat to finish wiring the first connection.
	send(t, first, map[string]any{"type": EvCreateRoom, "roomName": "HOLD"})
	_ = recv(t, first)

	second := dial(t, wsURL)
	reply := recv(t, second)
	if reply["type"] != EvConnectionLimit {
		t.Fatalf("over-limit client got %v, want %s", reply, EvConnectionLimit)
	}
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("over-limit connection should be closed by the server")
	}
}

func TestWS_GetUsage(t *testing.T) {
	_, wsURL := newTestServer(t, 2000)

	conn := dial(t, wsURL)
	send(t, conn, map[string]any{"type": EvGetUsage})
	reply := recv(t, conn)
	if reply["type"] != EvUsageData {
		t.Fatalf("reply = %v, want usage-data", reply)
	}
	for _, field := range []string{"memoryUsedMB", "memoryUsedPercentage", "cpuUsedPercentage"} {
		if _, ok := reply[field].(float64); !ok {
			t.Errorf("usage-data missing numeric %s: %v", field, reply[field])
		}
	}
}
