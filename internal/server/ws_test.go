package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, ts *testServer, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/collab/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": {userID}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSEvent(t *testing.T, conn *websocket.Conn, wantType string) wsEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", wantType, err)
		}
		var evt wsEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.Type == wantType {
			return evt
		}
	}
}

func onlineUserIDs(t *testing.T, ts *testServer, sessionID string) []string {
	t.Helper()
	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v1/sessions/"+sessionID+"/users", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("users status %d: %s", res.StatusCode, body)
	}
	var out ActiveUsersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	ids := make([]string, 0, len(out.Users))
	for _, u := range out.Users {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestWebsocketJoinAndReply(t *testing.T) {
	ts := newTestServer(t, anonymous())
	conn := dialWS(t, ts, "ana")

	if err := conn.WriteJSON(wsEvent{Type: "join-session", SessionID: "ws-a", UserID: "ana"}); err != nil {
		t.Fatal(err)
	}
	evt := readWSEvent(t, conn, "active-users")
	if evt.SessionID != "ws-a" || len(evt.Users) != 1 || evt.Users[0].ID != "ana" {
		t.Fatalf("unexpected join reply: %+v", evt)
	}
}

func TestWebsocketRejoinLeavesPreviousSession(t *testing.T) {
	ts := newTestServer(t, anonymous())
	conn := dialWS(t, ts, "ana")

	if err := conn.WriteJSON(wsEvent{Type: "join-session", SessionID: "ws-a", UserID: "ana"}); err != nil {
		t.Fatal(err)
	}
	readWSEvent(t, conn, "active-users")

	if err := conn.WriteJSON(wsEvent{Type: "join-session", SessionID: "ws-b", UserID: "ana"}); err != nil {
		t.Fatal(err)
	}
	evt := readWSEvent(t, conn, "active-users")
	if evt.SessionID != "ws-b" {
		t.Fatalf("join reply for %s, want ws-b", evt.SessionID)
	}

	if ids := onlineUserIDs(t, ts, "ws-a"); len(ids) != 0 {
		t.Fatalf("still online in abandoned session: %v", ids)
	}
	if ids := onlineUserIDs(t, ts, "ws-b"); len(ids) != 1 || ids[0] != "ana" {
		t.Fatalf("not online in joined session: %v", ids)
	}
}

func TestWebsocketDisconnectMarksOffline(t *testing.T) {
	ts := newTestServer(t, anonymous())
	conn := dialWS(t, ts, "ana")

	if err := conn.WriteJSON(wsEvent{Type: "join-session", SessionID: "ws-c", UserID: "ana"}); err != nil {
		t.Fatal(err)
	}
	readWSEvent(t, conn, "active-users")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ids := onlineUserIDs(t, ts, "ws-c"); len(ids) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("user still online after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
