package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orbit-social/backend/internal/auth"
	"github.com/orbit-social/backend/internal/config"
	"github.com/orbit-social/backend/internal/events"
	"github.com/orbit-social/backend/internal/model"
	"github.com/orbit-social/backend/internal/presence"
	"github.com/orbit-social/backend/internal/router"
	"github.com/orbit-social/backend/internal/session"
	"github.com/orbit-social/backend/internal/store"
)

type memUsers struct {
	mu      sync.Mutex
	online  map[string]bool
	missing map[string]bool
}

func (m *memUsers) SetOnline(_ context.Context, userID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online[userID] = online
	return nil
}

func (m *memUsers) UserByID(_ context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[id] {
		return model.User{}, store.ErrNotFound
	}
	return model.User{ID: id, Username: id}, nil
}

func (m *memUsers) isOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID]
}

type memChats struct {
	mu      sync.Mutex
	members map[string][]string
	n       int
}

func (m *memChats) ChatMembers(_ context.Context, chatID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return members, nil
}

func (m *memChats) AppendMessage(_ context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	msg.ID = "msg-" + string(rune('0'+m.n))
	msg.CreatedAt = time.Now()
	return msg, nil
}

type testServer struct {
	http      *httptest.Server
	ws        *Server
	tokens    *auth.JWTService
	users     *memUsers
	chats     *memChats
	registry  *presence.Registry
	observers *presence.ObserverIndex
}

func newTestServer(t *testing.T, maxConns int) *testServer {
	t.Helper()
	logger := discardLogger()
	ts := &testServer{
		tokens:    auth.NewJWTService("a-secret", "r-secret", time.Minute, time.Hour),
		users:     &memUsers{online: map[string]bool{}, missing: map[string]bool{}},
		chats:     &memChats{members: map[string][]string{}},
		registry:  presence.NewRegistry(),
		observers: presence.NewObserverIndex(),
	}
	rt := router.New(ts.registry, ts.observers, logger)
	ctrl := session.New(session.Deps{
		Auth:      auth.NewGate(ts.tokens, nil),
		Users:     ts.users,
		Chats:     ts.chats,
		Registry:  ts.registry,
		Observers: ts.observers,
		Router:    rt,
		Logger:    logger,
	})
	ts.ws = NewServer(NewHub(maxConns, logger), ctrl, rt, Options{
		WS: config.WSConfig{
			SendBuffer:      16,
			MaxMessageBytes: 1 << 16,
			PingInterval:    time.Second,
			PongWait:        5 * time.Second,
		},
		CookieName: "refreshToken",
		Logger:     logger,
	})
	ts.http = httptest.NewServer(ts.ws)
	t.Cleanup(func() {
		ts.ws.Hub().CloseAll()
		ts.http.Close()
	})
	return ts
}

func (ts *testServer) token(t *testing.T, user string) string {
	t.Helper()
	pair, err := ts.tokens.Issue(user, user)
	if err != nil {
		t.Fatal(err)
	}
	return pair.AccessToken
}

func (ts *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http")
	if token != "" {
		u += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    events.Type     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want events.Type) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if f.Type == want {
			return f
		}
	}
}

// login connects user and completes the login event.
func (ts *testServer) login(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn := ts.dial(t, ts.token(t, user))
	send(t, conn, events.Inbound{Type: events.CmdLogin})
	readUntil(t, conn, events.MsgLoggedIn)
	return conn
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeRejectsInvalidCredential(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t, "not-a-token")

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err = %v, want policy-violation close", err)
	}
	waitFor(t, func() bool { return ts.ws.Hub().ClientCount() == 0 }, "rejected client to leave the hub")
}

func TestLoginBroadcastsAndReplies(t *testing.T) {
	ts := newTestServer(t, 0)
	anon := ts.dial(t, "")
	u2 := ts.login(t, "u2")

	u1 := ts.dial(t, ts.token(t, "u1"))
	send(t, u1, events.Inbound{Type: events.CmdLogin})

	f := readUntil(t, u1, events.MsgStatusChanged)
	var status events.StatusPayload
	if err := json.Unmarshal(f.Payload, &status); err != nil {
		t.Fatal(err)
	}
	if status.UserID != "u1" || !status.Online {
		t.Errorf("own status = %+v", status)
	}
	f = readUntil(t, u1, events.MsgOnlineUsers)
	var online events.OnlineUsersPayload
	if err := json.Unmarshal(f.Payload, &online); err != nil {
		t.Fatal(err)
	}
	if len(online.UserIDs) != 2 {
		t.Errorf("online users = %v, want u1 and u2", online.UserIDs)
	}

	f = readUntil(t, u2, events.MsgStatusChanged)
	if err := json.Unmarshal(f.Payload, &status); err != nil {
		t.Fatal(err)
	}
	if status.UserID != "u1" {
		t.Errorf("u2 saw status for %q, want u1", status.UserID)
	}
	if !ts.users.isOnline("u1") {
		t.Error("u1 should be persisted online")
	}

	// The anonymous socket is registered nowhere and receives nothing.
	_ = anon.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := anon.ReadMessage(); err == nil {
		t.Error("anonymous socket received a frame")
	}
}

func TestLoginWithEventToken(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t, "")
	send(t, conn, events.Inbound{Type: events.CmdLogin, Token: ts.token(t, "u7")})
	readUntil(t, conn, events.MsgLoggedIn)

	if _, ok := ts.registry.Lookup("u7"); !ok {
		t.Error("u7 should be registered")
	}
}

func TestLoginWithoutCredentialReportsError(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.dial(t, "")
	send(t, conn, events.Inbound{Type: events.CmdLogin})

	f := readUntil(t, conn, events.MsgError)
	var p events.ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Op != events.CmdLogin || p.Message != "unauthenticated" {
		t.Errorf("error payload = %+v", p)
	}
	if ts.registry.Len() != 0 {
		t.Error("failed login registered the connection")
	}
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	ts := newTestServer(t, 0)
	conn := ts.login(t, "u1")

	send(t, conn, map[string]string{"type": "teleport"})
	f := readUntil(t, conn, events.MsgError)
	var p events.ErrorPayload
	_ = json.Unmarshal(f.Payload, &p)
	if p.Op != "teleport" {
		t.Errorf("op = %q, want teleport", p.Op)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, events.MsgError)

	send(t, conn, events.Inbound{Type: events.CmdVisitIn})
	f = readUntil(t, conn, events.MsgError)
	_ = json.Unmarshal(f.Payload, &p)
	if p.Op != events.CmdVisitIn {
		t.Errorf("op = %q, want visit-in", p.Op)
	}
}

func TestVisitInAndChatOverSocket(t *testing.T) {
	ts := newTestServer(t, 0)
	u1 := ts.login(t, "u1")
	u2 := ts.login(t, "u2")
	ts.chats.members["c1"] = []string{"u1", "u2"}

	send(t, u2, map[string]interface{}{"type": "visit-in", "payload": map[string]string{"ownerId": "u1"}})
	f := readUntil(t, u2, events.MsgVisitorLog)
	var log events.VisitorLogPayload
	if err := json.Unmarshal(f.Payload, &log); err != nil {
		t.Fatal(err)
	}
	if log.OwnerID != "u1" || len(log.Visitors) != 1 || log.Visitors[0] != "u2" {
		t.Errorf("visitor log = %+v", log)
	}

	send(t, u1, map[string]interface{}{"type": "chat-send", "payload": map[string]string{"chatId": "c1", "body": "hi"}})
	for name, conn := range map[string]*websocket.Conn{"sender": u1, "member": u2} {
		f := readUntil(t, conn, events.MsgChatMessage)
		var msg events.ChatMessagePayload
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Body != "hi" || msg.SenderID != "u1" || msg.ChatID != "c1" {
			t.Errorf("%s got %+v", name, msg)
		}
	}

	send(t, u1, map[string]interface{}{"type": "chat-send", "payload": map[string]string{"chatId": "nope", "body": "x"}})
	f = readUntil(t, u1, events.MsgError)
	var p events.ErrorPayload
	_ = json.Unmarshal(f.Payload, &p)
	if p.Message != "not found" {
		t.Errorf("error = %+v, want not found", p)
	}
}

func TestVisitInUnknownOwnerReportsNotFound(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.users.missing["ghost"] = true
	conn := ts.login(t, "u1")

	send(t, conn, map[string]interface{}{"type": "visit-in", "payload": map[string]string{"ownerId": "ghost"}})
	f := readUntil(t, conn, events.MsgError)
	var p events.ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Op != events.CmdVisitIn || p.Message != "not found" {
		t.Errorf("error payload = %+v, want visit-in not found", p)
	}
	if ts.observers.EntryCount() != 0 {
		t.Error("visit to an unknown owner created an observer entry")
	}
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	ts := newTestServer(t, 0)
	u2 := ts.login(t, "u2")
	u1 := ts.login(t, "u1")
	readUntil(t, u2, events.MsgStatusChanged) // u1 online

	u1.Close()

	f := readUntil(t, u2, events.MsgStatusChanged)
	var status events.StatusPayload
	if err := json.Unmarshal(f.Payload, &status); err != nil {
		t.Fatal(err)
	}
	if status.UserID != "u1" || status.Online {
		t.Errorf("status = %+v, want u1 offline", status)
	}
	waitFor(t, func() bool { _, ok := ts.registry.Lookup("u1"); return !ok }, "u1 to leave the registry")
	if ts.users.isOnline("u1") {
		t.Error("u1 should be persisted offline")
	}
}

func TestReconnectSupersedesOldSocket(t *testing.T) {
	ts := newTestServer(t, 0)
	watcher := ts.login(t, "w")
	old := ts.login(t, "u1")
	readUntil(t, watcher, events.MsgStatusChanged)
	fresh := ts.login(t, "u1")
	readUntil(t, watcher, events.MsgStatusChanged)

	old.Close()
	waitFor(t, func() bool { return ts.ws.Hub().ClientCount() == 2 }, "old socket to close")

	cur, ok := ts.registry.Lookup("u1")
	if !ok {
		t.Fatal("u1 dropped by a stale disconnect")
	}
	send(t, fresh, events.Inbound{Type: events.CmdLogout})
	readUntil(t, fresh, events.MsgLoggedOut)
	if _, ok := ts.registry.Lookup("u1"); ok {
		t.Errorf("u1 still registered on %s after logout", cur.ID())
	}
}

func TestServerRejectsWhenFull(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.dial(t, "")
	waitFor(t, func() bool { return ts.ws.Hub().ClientCount() == 1 }, "first client")

	u := "ws" + strings.TrimPrefix(ts.http.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("second dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("resp = %v, want 503", resp)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:3000", "example.com", true},
		{"loopback v6", nil, "http://[::1]:3000", "example.com", true},
		{"foreign", nil, "http://evil.test", "example.com", false},
		{"allow list exact", []string{"https://app.orbit.test"}, "https://app.orbit.test", "api.orbit.test", true},
		{"allow list host", []string{"https://app.orbit.test"}, "http://app.orbit.test", "api.orbit.test", true},
		{"allow list miss", []string{"https://app.orbit.test"}, "http://localhost:3000", "api.orbit.test", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(NewHub(0, nil), nil, nil, Options{AllowedOrigins: tt.allowed, Logger: discardLogger()})
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	r.Header.Set("Authorization", "Bearer h")
	if got := credentialFrom(r, "rt"); got != "q" {
		t.Errorf("query token: got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer h")
	if got := credentialFrom(r, "rt"); got != "h" {
		t.Errorf("bearer: got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: "rt", Value: "c"})
	if got := credentialFrom(r, "rt"); got != "c" {
		t.Errorf("cookie: got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	if got := credentialFrom(r, "rt"); got != "" {
		t.Errorf("none: got %q", got)
	}
}
