package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PPDirect/module/chat/event"
	"PPDirect/module/chat/model"
	"PPDirect/module/chat/service"
	"PPDirect/module/chat/store/memory"
	"PPDirect/module/presence"
	"PPDirect/service/chat"
	"PPDirect/service/chat/handlers"
	"PPDirect/tools/errs"
	"PPDirect/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type gateway struct {
	t     *testing.T
	http  *httptest.Server
	srv   *chat.Server
	svc   *service.Service
	store *memory.Store
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	return newGatewayWith(t, nil)
}

// lookup 非 nil 时接上会话镜像
func newGatewayWith(t *testing.T, lookup chat.SessionLookup) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ms := memory.New()
	ctx := context.Background()
	for id, name := range map[string]string{"alice": "Alice", "bob": "Bob", "carol": "Carol"} {
		_ = ms.PutIdentity(ctx, model.Identity{ID: id, Name: name})
	}
	_ = ms.PutBlock(ctx, model.BlockRelation{BlockerID: "carol", BlockedID: "bob"})

	reg := presence.New(ms)
	svc := service.New(service.Config{
		Token: security.Options{Secret: []byte("gw-secret"), Alg: "HS256", TTL: time.Hour},
	}, service.Deps{Store: ms, Hub: reg})

	disp := chat.NewDispatcher()
	handlers.Register(disp)
	srv := chat.NewServer(chat.Options{PongWait: 5 * time.Second, PingPeriod: time.Second}, svc, reg, disp)
	if lookup != nil {
		srv.SetSessionLookup(lookup)
	}

	r := gin.New()
	srv.Routes(r)
	g := &gateway{t: t, http: httptest.NewServer(r), srv: srv, svc: svc, store: ms}
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		g.http.Close()
	})
	return g
}

func (g *gateway) token(id string) string {
	g.t.Helper()
	tok, err := g.svc.Auth.IssueToken(id, 0)
	if err != nil {
		g.t.Fatal(err)
	}
	return tok
}

func (g *gateway) wsURL() string {
	return "ws" + strings.TrimPrefix(g.http.URL, "http") + "/ws"
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

type inFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (g *gateway) dial(id string) *client {
	g.t.Helper()
	h := http.Header{}
	h.Set("Authorization", "Bearer "+g.token(id))
	ws, _, err := websocket.DefaultDialer.Dial(g.wsURL(), h)
	if err != nil {
		g.t.Fatalf("dial %s: %v", id, err)
	}
	c := &client{t: g.t, ws: ws}
	g.t.Cleanup(func() { _ = ws.Close() })
	return c
}

func (c *client) send(name string, data any) {
	c.t.Helper()
	if err := c.ws.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		c.t.Fatalf("write %s: %v", name, err)
	}
}

// await 读到指定事件为止，途中的其他事件丢弃
func (c *client) await(name string, out any) {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.ws.SetReadDeadline(deadline)
		var f inFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v", name, err)
		}
		if f.Event != name {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(f.Data, out); err != nil {
				c.t.Fatalf("decode %s: %v", name, err)
			}
		}
		return
	}
}

func TestHandshakeRejectedWithoutValidToken(t *testing.T) {
	g := newGateway(t)
	for _, url := range []string{g.wsURL(), g.wsURL() + "?token=garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("dial %s should fail", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("dial %s: resp=%v err=%v, want 401", url, resp, err)
		}
	}
	if g.srv.Registry().IsOnline("alice") {
		t.Fatalf("rejected handshake must not mark anyone online")
	}
}

func TestQueryTokenAccepted(t *testing.T) {
	g := newGateway(t)
	ws, _, err := websocket.DefaultDialer.Dial(g.wsURL()+"?token="+g.token("alice"), nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	defer ws.Close()
	c := &client{t: t, ws: ws}
	var snap event.SnapshotPayload
	c.await(event.OnlineSnapshot, &snap)
}

func TestMessageRoundTrip(t *testing.T) {
	g := newGateway(t)
	alice := g.dial("alice")
	alice.await(event.OnlineSnapshot, nil)

	bob := g.dial("bob")
	var snap event.SnapshotPayload
	bob.await(event.OnlineSnapshot, &snap)

	var pres event.PresencePayload
	alice.await(event.PresenceChanged, &pres)
	if pres.IdentityID != "bob" || !pres.Online {
		t.Fatalf("presence = %+v", pres)
	}

	bob.send(chat.EvSendMessage, map[string]any{"receiverId": "alice", "content": "hi", "correlationId": "c-1"})

	var got event.MessagePayload
	alice.await(event.MessageReceived, &got)
	if got.Content != "hi" || got.SenderID != "bob" || got.IsRead || got.Sender.Name != "Bob" {
		t.Fatalf("alice got %+v", got)
	}
	var unread event.UnreadPayload
	alice.await(event.UnreadCount, &unread)
	if unread.Count != 1 || unread.ChatID != got.ChatID {
		t.Fatalf("unread = %+v", unread)
	}

	var echo event.MessagePayload
	bob.await(event.MessageReceived, &echo)
	if echo.CorrelationID != "c-1" || echo.ID != got.ID {
		t.Fatalf("echo = %+v", echo)
	}

	// alice 打开会话并标记已读
	alice.send(chat.EvJoinChat, map[string]any{"chatId": got.ChatID})
	alice.send(chat.EvMarkRead, map[string]any{"chatId": got.ChatID})
	alice.await(event.UnreadCount, &unread)
	if unread.Count != 0 {
		t.Fatalf("after mark_read unread = %d", unread.Count)
	}
	var rr event.ReceiptPayload
	bob.await(event.ReadReceipt, &rr)
	if rr.ReaderID != "alice" || rr.ChatID != got.ChatID {
		t.Fatalf("receipt = %+v", rr)
	}

	// alice 停留在会话里，新消息直接已读
	bob.send(chat.EvSendMessage, map[string]any{"receiverId": "alice", "content": "seen?"})
	alice.await(event.MessageReceived, &got)
	if !got.IsRead {
		t.Fatalf("message to joined receiver should be read")
	}

	// 宽松解码："true" -> bool
	bob.send(chat.EvTyping, map[string]any{"receiverId": "alice", "isTyping": "true"})
	var typing event.TypingPayload
	alice.await(event.TypingStatus, &typing)
	if typing.SenderID != "bob" || !typing.IsTyping {
		t.Fatalf("typing = %+v", typing)
	}

	_ = bob.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	alice.await(event.PresenceChanged, &pres)
	if pres.IdentityID != "bob" || pres.Online {
		t.Fatalf("presence after close = %+v", pres)
	}
}

func TestErrorsGoToOriginOnly(t *testing.T) {
	g := newGateway(t)
	bob := g.dial("bob")
	bob.await(event.OnlineSnapshot, nil)

	bob.send("dance", map[string]any{})
	var e event.ErrorPayload
	bob.await(event.Error, &e)
	if e.Code != errs.CodeUnsupportedEvent {
		t.Fatalf("unknown event error = %+v", e)
	}

	bob.send(chat.EvSendMessage, map[string]any{"receiverId": "carol", "content": "hey"})
	bob.await(event.Error, &e)
	if e.Code != errs.CodeBlocked {
		t.Fatalf("blocked error = %+v", e)
	}
	if g.store.MessageCount() != 0 || len(g.store.Conversations()) != 0 {
		t.Fatalf("blocked send persisted state")
	}

	if err := bob.ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	bob.await(event.Error, &e)
	if e.Code != errs.CodeInvalidArgument {
		t.Fatalf("malformed frame error = %+v", e)
	}

	// 连接仍然可用
	bob.send(chat.EvSendMessage, map[string]any{"receiverId": "alice", "content": "still here", "correlationId": "x"})
	var echo event.MessagePayload
	bob.await(event.MessageReceived, &echo)
	if echo.CorrelationID != "x" {
		t.Fatalf("echo = %+v", echo)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	g := newGateway(t)
	alice := g.dial("alice")
	alice.await(event.OnlineSnapshot, nil)

	resp, err := http.Get(g.http.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(g.http.URL + "/presence")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("/presence without token = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, g.http.URL+"/presence", nil)
	req.Header.Set("Authorization", "Bearer "+g.token("bob"))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Identities []string `json:"identities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Identities) != 1 || body.Identities[0] != "alice" {
		t.Fatalf("presence = %v", body.Identities)
	}
}

type fakeLookup struct {
	sessions map[string][]string
	err      error
}

func (f fakeLookup) IsOnline(_ context.Context, id string) (bool, int64, error) {
	n := int64(len(f.sessions[id]))
	return n > 0, n, f.err
}

func (f fakeLookup) ActiveSessions(_ context.Context, id string) ([]string, error) {
	return f.sessions[id], f.err
}

func getPresenceOf(t *testing.T, g *gateway, id string, out any) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, g.http.URL+"/presence/"+id, nil)
	req.Header.Set("Authorization", "Bearer "+g.token("bob"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestIdentityPresenceWithMirror(t *testing.T) {
	g := newGatewayWith(t, fakeLookup{sessions: map[string][]string{"alice": {"n:gw:id:c1:u:alice", "n:gw:id:c2:u:alice"}}})
	alice := g.dial("alice")
	alice.await(event.OnlineSnapshot, nil)

	var body struct {
		IdentityID    string `json:"identityId"`
		Online        bool   `json:"online"`
		LocalSessions int    `json:"localSessions"`
		Mirror        struct {
			Online   bool     `json:"online"`
			Count    int64    `json:"count"`
			Sessions []string `json:"sessions"`
		} `json:"mirror"`
	}
	if code := getPresenceOf(t, g, "alice", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.IdentityID != "alice" || !body.Online || body.LocalSessions != 1 {
		t.Fatalf("local view = %+v", body)
	}
	if !body.Mirror.Online || body.Mirror.Count != 2 || len(body.Mirror.Sessions) != 2 {
		t.Fatalf("mirror view = %+v", body.Mirror)
	}
}

func TestIdentityPresenceMirrorDown(t *testing.T) {
	g := newGatewayWith(t, fakeLookup{err: errors.New("redis: connection refused")})
	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if code := getPresenceOf(t, g, "alice", &body); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", code)
	}
	if body.Code != errs.CodePersistence || strings.Contains(body.Message, "refused") {
		t.Fatalf("body = %+v", body)
	}
}

func TestIdentityPresenceWithoutMirror(t *testing.T) {
	g := newGateway(t)
	var body map[string]any
	if code := getPresenceOf(t, g, "carol", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if _, ok := body["mirror"]; ok || body["online"] != false {
		t.Fatalf("body = %v", body)
	}
}
