package broadcast

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"overlaycore/src/authz"
	"overlaycore/src/model"
	"overlaycore/src/persistence"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	adapter := persistence.NewMemoryAdapter()
	adapter.SeedProject(model.Project{OwnerUserID: "u-owner", OwnerName: "acme", Name: "show"}, nil)

	gate := authz.New("test-secret", adapter)
	registry := NewRegistry()
	srv := NewServer(registry, gate, nil)

	httpSrv := httptest.NewServer(srv)
	return httpSrv, srv
}

func dial(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServeHTTPSendsHelloOnConnect(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if msg.Op != opHello {
		t.Fatalf("first message op = %d, want opHello", msg.Op)
	}
}

func TestAnonymousJoinReceivesJoinedEvent(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	var hello wsMessage
	_ = conn.ReadJSON(&hello)

	err := conn.WriteJSON(wsMessage{Op: opJoin, D: joinPayload{Project: "acme/show"}})
	if err != nil {
		t.Fatalf("write join: %v", err)
	}

	var reply wsMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read join reply: %v", err)
	}
	if reply.T != "joined" {
		t.Fatalf("expected joined event, got %q (op=%d)", reply.T, reply.Op)
	}
}

func TestJoinUnknownProjectReceivesError(t *testing.T) {
	httpSrv, _ := newTestServer(t)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	var hello wsMessage
	_ = conn.ReadJSON(&hello)

	_ = conn.WriteJSON(wsMessage{Op: opJoin, D: joinPayload{Project: "acme/does-not-exist"}})

	var reply wsMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if reply.T != "error" {
		t.Fatalf("expected error event for unknown project, got %q", reply.T)
	}
}

func TestEmitReachesJoinedSession(t *testing.T) {
	httpSrv, srv := newTestServer(t)
	defer httpSrv.Close()

	conn := dial(t, httpSrv)
	defer conn.Close()

	var hello wsMessage
	_ = conn.ReadJSON(&hello)
	_ = conn.WriteJSON(wsMessage{Op: opJoin, D: joinPayload{Project: "acme/show"}})

	var joined wsMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_ = conn.ReadJSON(&joined)

	srv.Emit("scene_live_update", map[string]any{"scene_id": 1, "is_live": true}, model.UserRoom("u-owner"))

	var event wsMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read emitted event: %v", err)
	}
	if event.T != "scene_live_update" {
		t.Fatalf("expected scene_live_update, got %q", event.T)
	}
}
