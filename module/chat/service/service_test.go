package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPDirect/module/chat/event"
	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"
	"PPDirect/module/chat/store/memory"
	"PPDirect/module/presence"
	"PPDirect/tools/errs"
	"PPDirect/tools/security"
)

type testConn struct {
	id       string
	identity model.Identity

	mu     sync.Mutex
	chat   string
	events []event.Event
}

func (c *testConn) ID() string               { return c.id }
func (c *testConn) Identity() model.Identity { return c.identity }
func (c *testConn) ActiveChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat
}
func (c *testConn) SetActiveChat(chatID string) {
	c.mu.Lock()
	c.chat = chatID
	c.mu.Unlock()
}
func (c *testConn) Deliver(ev event.Event) bool {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return true
}

func (c *testConn) named(name string) []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []event.Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type recordSink struct {
	mu   sync.Mutex
	recs []event.Record
}

func (s *recordSink) Emit(_ context.Context, r event.Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
	return nil
}

func (s *recordSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.recs {
		out = append(out, r.Kind)
	}
	return out
}

type fixture struct {
	t     *testing.T
	store *memory.Store
	reg   *presence.Registry
	svc   *Service
	sink  *recordSink
	seq   atomic.Int64
}

var testSecret = []byte("service-test-secret")

func newFixture(t *testing.T, identities ...string) *fixture {
	return newFixtureWith(t, nil, identities...)
}

// wrap 可以包一层故障注入
func newFixtureWith(t *testing.T, wrap func(*memory.Store) store.Store, identities ...string) *fixture {
	t.Helper()
	ms := memory.New()
	for _, id := range identities {
		if err := ms.PutIdentity(context.Background(), model.Identity{ID: id, Name: strings.ToUpper(id), Avatar: id + ".png"}); err != nil {
			t.Fatal(err)
		}
	}
	var st store.Store = ms
	if wrap != nil {
		st = wrap(ms)
	}
	f := &fixture{t: t, store: ms, sink: &recordSink{}}
	f.reg = presence.New(st)
	f.svc = New(Config{
		MaxContentLen: 20,
		Token:         security.Options{Secret: testSecret, Alg: "HS256", TTL: time.Hour},
	}, Deps{Store: st, Hub: f.reg, Sink: f.sink})
	return f
}

func (f *fixture) connect(identity string) *testConn {
	f.t.Helper()
	ident, err := f.store.GetIdentity(context.Background(), identity)
	if err != nil {
		f.t.Fatalf("connect %s: %v", identity, err)
	}
	c := &testConn{id: fmt.Sprintf("conn-%d", f.seq.Add(1)), identity: ident}
	f.reg.Admit(context.Background(), c)
	return c
}

func (f *fixture) send(from *testConn, to, content, corr string) (model.Message, error) {
	return f.svc.Delivery.Send(context.Background(), from, SendRequest{ReceiverID: to, Content: content, CorrelationID: corr})
}

func wantCode(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %d, got nil", code)
	}
	if got := errs.Code(err); got != code {
		t.Fatalf("error code = %d (%v), want %d", got, err, code)
	}
}

func TestSendUnreadScenario(t *testing.T) {
	f := newFixture(t, "a", "b")
	a, b := f.connect("a"), f.connect("b")

	msg, err := f.send(a, "b", "hi", "corr-1")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Read || msg.Type != "text" {
		t.Fatalf("message = %+v, want unread text", msg)
	}

	got := b.named(event.MessageReceived)
	if len(got) != 1 {
		t.Fatalf("receiver got %d messages", len(got))
	}
	p := got[0].Data.(event.MessagePayload)
	if p.Content != "hi" || p.IsRead || p.Sender.Name != "A" || p.Sender.Avatar != "a.png" || p.CorrelationID != "" {
		t.Fatalf("receiver payload = %+v", p)
	}

	unread := b.named(event.UnreadCount)
	if len(unread) != 1 || unread[0].Data.(event.UnreadPayload).Count != 1 || unread[0].Data.(event.UnreadPayload).ChatID != msg.ConversationID {
		t.Fatalf("receiver unread_count = %+v", unread)
	}

	echo := a.named(event.MessageReceived)
	if len(echo) != 1 || echo[0].Data.(event.MessagePayload).CorrelationID != "corr-1" {
		t.Fatalf("sender echo = %+v", echo)
	}
	if len(a.named(event.UnreadCount)) != 0 {
		t.Fatalf("sender must not get unread_count")
	}

	stored := f.store.ListMessages(msg.ConversationID)
	if len(stored) != 1 || stored[0].Read {
		t.Fatalf("stored = %+v", stored)
	}
	if k := f.sink.kinds(); len(k) != 1 || k[0] != event.KindMessagePersisted {
		t.Fatalf("sink kinds = %v", k)
	}
}

func TestSendToJoinedReceiverIsRead(t *testing.T) {
	f := newFixture(t, "a", "b")
	a, b := f.connect("a"), f.connect("b")
	first, err := f.send(a, "b", "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Chats.Join(context.Background(), b, first.ConversationID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	before := len(b.named(event.UnreadCount))

	msg, err := f.send(a, "b", "again", "")
	if err != nil {
		t.Fatal(err)
	}
	if !msg.Read {
		t.Fatalf("message to a receiver viewing the chat must be read")
	}
	if after := len(b.named(event.UnreadCount)); after != before {
		t.Fatalf("no unread_count push expected, got %d new", after-before)
	}
	if p := b.named(event.MessageReceived)[1].Data.(event.MessagePayload); !p.IsRead {
		t.Fatalf("delivered payload should carry isRead=true")
	}

	// 离开后恢复未读
	f.svc.Chats.Leave(b)
	if m, _ := f.send(a, "b", "third", ""); m.Read {
		t.Fatalf("after leave_chat messages are unread again")
	}
}

func TestSendToOfflineReceiverPersists(t *testing.T) {
	f := newFixture(t, "a", "b")
	a := f.connect("a")
	msg, err := f.send(a, "b", "you there?", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n, _ := f.store.CountUnread(context.Background(), msg.ConversationID, "b"); n != 1 {
		t.Fatalf("offline receiver unread = %d", n)
	}
}

func TestBlockedSendsPersistNothing(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	if err := f.store.PutBlock(ctx, model.BlockRelation{BlockerID: "b", BlockedID: "a"}); err != nil {
		t.Fatal(err)
	}
	a, b := f.connect("a"), f.connect("b")
	for i := 0; i < 5; i++ {
		_, err := f.send(a, "b", "let me in", "")
		wantCode(t, err, errs.CodeBlocked)
		if !errors.Is(err, &errs.ErrBlocked) {
			t.Fatalf("errors.Is(err, ErrBlocked) = false for %v", err)
		}
	}
	if len(f.store.Conversations()) != 0 || f.store.MessageCount() != 0 {
		t.Fatalf("blocked sends created state: convs=%d msgs=%d", len(f.store.Conversations()), f.store.MessageCount())
	}
	if len(b.named(event.MessageReceived)) != 0 {
		t.Fatalf("blocked message was delivered")
	}
	// 方向：b 仍然可以给 a 发
	if _, err := f.send(b, "a", "hi a", ""); err != nil {
		t.Fatalf("reverse direction should not be blocked: %v", err)
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, "a", "b")
	a := f.connect("a")
	cases := []struct {
		name string
		req  SendRequest
		code int
	}{
		{"empty receiver", SendRequest{Content: "x"}, errs.CodeInvalidArgument},
		{"empty content", SendRequest{ReceiverID: "b", Content: "  "}, errs.CodeInvalidArgument},
		{"too long", SendRequest{ReceiverID: "b", Content: strings.Repeat("é", 21)}, errs.CodeInvalidArgument},
		{"self", SendRequest{ReceiverID: "a", Content: "me"}, errs.CodeInvalidArgument},
		{"unknown receiver", SendRequest{ReceiverID: "ghost", Content: "boo"}, errs.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Delivery.Send(context.Background(), a, tc.req)
			wantCode(t, err, tc.code)
		})
	}
	if len(f.store.Conversations()) != 0 || f.store.MessageCount() != 0 {
		t.Fatalf("rejected sends left state behind")
	}
	// 恰好 20 个 rune 可以
	if _, err := f.send(a, "b", strings.Repeat("é", 20), ""); err != nil {
		t.Fatalf("content at the limit rejected: %v", err)
	}
}

func TestConcurrentFirstContactCreatesOneConversation(t *testing.T) {
	f := newFixture(t, "a", "b")
	a, b := f.connect("a"), f.connect("b")
	const n = 32
	var wg sync.WaitGroup
	chats := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, "b"
			if i%2 == 1 {
				from, to = b, "a"
			}
			m, err := f.send(from, to, fmt.Sprintf("m%d", i), "")
			if err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
			chats[i] = m.ConversationID
		}(i)
	}
	wg.Wait()

	convs := f.store.Conversations()
	if len(convs) != 1 {
		t.Fatalf("want exactly one conversation, got %d", len(convs))
	}
	if fmt.Sprint(convs[0].Members) != "[a b]" {
		t.Fatalf("members = %v", convs[0].Members)
	}
	for i, c := range chats {
		if c != convs[0].ID {
			t.Fatalf("send %d landed in %q, want %q", i, c, convs[0].ID)
		}
	}
	if f.store.MessageCount() != n {
		t.Fatalf("messages = %d, want %d", f.store.MessageCount(), n)
	}
}

// racyConversations 第一次 FindByPairKey 假装看不到已存在的会话，模拟另一个进程抢先创建
type racyConversations struct {
	*memory.Store
	hidden atomic.Bool
}

func (r *racyConversations) FindByPairKey(ctx context.Context, key string) (model.Conversation, error) {
	if r.hidden.CompareAndSwap(true, false) {
		return model.Conversation{}, store.ErrNotFound
	}
	return r.Store.FindByPairKey(ctx, key)
}

func TestResolveLoserRefetchesWinner(t *testing.T) {
	ms := memory.New()
	ctx := context.Background()
	_ = ms.PutIdentity(ctx, model.Identity{ID: "a"})
	_ = ms.PutIdentity(ctx, model.Identity{ID: "b"})

	// 另一个进程已经创建
	winner, members := model.NewConversation("winner", "a", "b", time.Now())
	if err := ms.CreatePrivate(ctx, winner, members); err != nil {
		t.Fatal(err)
	}

	racy := &racyConversations{Store: ms}
	racy.hidden.Store(true)
	r := NewResolver(ms, racy, func() string { return "loser" }, time.Now)

	got, err := r.Resolve(ctx, "b", "a")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != "winner" {
		t.Fatalf("Resolve returned %q, want the winner's conversation", got.ID)
	}
	if len(ms.Conversations()) != 1 {
		t.Fatalf("loser must not create a second conversation")
	}
}

func TestResolveSameIDFromBothSides(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	x, err := f.svc.Resolver.Resolve(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	y, err := f.svc.Resolver.Resolve(ctx, "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if x.ID != y.ID {
		t.Fatalf("resolve not symmetric: %s vs %s", x.ID, y.ID)
	}
	_, err = f.svc.Resolver.Resolve(ctx, "a", "a")
	wantCode(t, err, errs.CodeInvalidArgument)
	_, err = f.svc.Resolver.Resolve(ctx, "a", "nobody")
	wantCode(t, err, errs.CodeNotFound)
}

func TestMarkReadSyncsDevicesAndNotifiesPeer(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	a := f.connect("a")
	b1, b2 := f.connect("b"), f.connect("b")
	c := f.connect("c")

	var chat string
	for i := 0; i < 3; i++ {
		m, err := f.send(a, "b", "hey", "")
		if err != nil {
			t.Fatal(err)
		}
		chat = m.ConversationID
	}

	flipped, err := f.svc.Receipts.MarkRead(ctx, b1, chat)
	if err != nil || flipped != 3 {
		t.Fatalf("MarkRead = %d, %v", flipped, err)
	}
	for _, conn := range []*testConn{b1, b2} {
		u := conn.named(event.UnreadCount)
		if last := u[len(u)-1].Data.(event.UnreadPayload); last.Count != 0 {
			t.Fatalf("%s last unread_count = %d, want 0", conn.id, last.Count)
		}
	}
	rr := a.named(event.ReadReceipt)
	if len(rr) != 1 || rr[0].Data.(event.ReceiptPayload) != (event.ReceiptPayload{ChatID: chat, ReaderID: "b"}) {
		t.Fatalf("read_receipt to sender = %+v", rr)
	}

	// 非成员
	_, err = f.svc.Receipts.MarkRead(ctx, c, chat)
	wantCode(t, err, errs.CodeNotFound)
	_, err = f.svc.Receipts.MarkRead(ctx, b1, "no-such-chat")
	wantCode(t, err, errs.CodeNotFound)

	for _, m := range f.store.ListMessages(chat) {
		if !m.Read {
			t.Fatalf("message %s still unread", m.ID)
		}
	}
	kinds := f.sink.kinds()
	if kinds[len(kinds)-1] != event.KindMessageRead {
		t.Fatalf("sink kinds = %v", kinds)
	}
}

func TestUnreadCountRepliesToCallerOnly(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	a := f.connect("a")
	m, _ := f.send(a, "b", "one", "")
	_, _ = f.send(a, "b", "two", "")

	b1, b2 := f.connect("b"), f.connect("b")
	n, err := f.svc.Receipts.UnreadCount(ctx, b1, m.ConversationID)
	if err != nil || n != 2 {
		t.Fatalf("UnreadCount = %d, %v", n, err)
	}
	if len(b1.named(event.UnreadCount)) != 1 || len(b2.named(event.UnreadCount)) != 0 {
		t.Fatalf("unread_count must go to the calling connection only")
	}
	_, err = f.svc.Receipts.UnreadCount(ctx, a, "no-such-chat")
	wantCode(t, err, errs.CodeNotFound)
}

// 任意交错下，未读数 == 存储中 read=false 的条数，且已读不会回退
func TestUnreadCountMatchesLiveState(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	a, b := f.connect("a"), f.connect("b")
	first, err := f.send(a, "b", "start", "")
	if err != nil {
		t.Fatal(err)
	}
	chat := first.ConversationID

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := f.send(a, "b", "x", ""); err != nil {
					t.Error(err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := f.svc.Receipts.MarkRead(ctx, b, chat); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	live := 0
	for _, m := range f.store.ListMessages(chat) {
		if !m.Read {
			live++
		}
	}
	n, err := f.svc.Receipts.UnreadCount(ctx, b, chat)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(live) {
		t.Fatalf("UnreadCount = %d, live unread = %d", n, live)
	}

	// 全部已读后，再也看不到未读
	if _, err := f.svc.Receipts.MarkRead(ctx, b, chat); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.svc.Receipts.UnreadCount(ctx, b, chat); n != 0 {
		t.Fatalf("after MarkRead unread = %d", n)
	}
	if flipped, _ := f.store.MarkRead(ctx, chat, "b"); flipped != 0 {
		t.Fatalf("read messages flipped again")
	}
}

func TestTypingRelay(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	a, b := f.connect("a"), f.connect("b")
	if err := f.svc.Typing.Relay(ctx, a, "b", true); err != nil {
		t.Fatal(err)
	}
	got := b.named(event.TypingStatus)
	if len(got) != 1 || got[0].Data.(event.TypingPayload) != (event.TypingPayload{SenderID: "a", IsTyping: true}) {
		t.Fatalf("typing_status = %+v", got)
	}
	if len(f.store.Conversations()) != 0 {
		t.Fatalf("typing must not create conversations")
	}
	wantCode(t, f.svc.Typing.Relay(ctx, a, "", true), errs.CodeInvalidArgument)
}

func TestJoinChatRequiresMembership(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	a, c := f.connect("a"), f.connect("c")
	m, _ := f.send(a, "b", "hi", "")

	wantCode(t, f.svc.Chats.Join(ctx, c, m.ConversationID), errs.CodeNotFound)
	if c.ActiveChat() != "" {
		t.Fatalf("non-member marker was set")
	}
	wantCode(t, f.svc.Chats.Join(ctx, c, ""), errs.CodeInvalidArgument)
	if err := f.svc.Chats.Join(ctx, a, m.ConversationID); err != nil || a.ActiveChat() != m.ConversationID {
		t.Fatalf("member join failed: %v", err)
	}
}

type failingInsert struct{ *memory.Store }

func (failingInsert) InsertMessage(context.Context, model.Message) error {
	return errors.New("disk full")
}

func TestPersistenceFailureDeliversNothing(t *testing.T) {
	f := newFixtureWith(t, func(ms *memory.Store) store.Store { return failingInsert{ms} }, "a", "b")
	a, b := f.connect("a"), f.connect("b")
	_, err := f.send(a, "b", "lost", "c1")
	wantCode(t, err, errs.CodePersistence)
	if len(b.named(event.MessageReceived)) != 0 || len(a.named(event.MessageReceived)) != 0 {
		t.Fatalf("failed send must not be delivered or echoed")
	}
	if len(f.sink.kinds()) != 0 {
		t.Fatalf("failed send must not emit records")
	}
}

type failingBlocks struct{ *memory.Store }

func (failingBlocks) IsBlocked(context.Context, string, string) (bool, error) {
	return false, errors.New("timeout")
}

func TestGuardStoreErrorIsPersistence(t *testing.T) {
	g := NewGuard(failingBlocks{memory.New()})
	wantCode(t, g.Check(context.Background(), "a", "b"), errs.CodePersistence)
}

// 下游事件出口卡住时，Send 最多等到调用方的截止时间
func TestSendWithStuckSinkHonoursDeadline(t *testing.T) {
	ms := memory.New()
	for _, id := range []string{"a", "b"} {
		_ = ms.PutIdentity(context.Background(), model.Identity{ID: id})
	}
	reg := presence.New(ms)
	stuck := event.SinkFunc(func(ctx context.Context, _ event.Record) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc := New(Config{}, Deps{Store: ms, Hub: reg, Sink: stuck})
	a := &testConn{id: "a1", identity: model.Identity{ID: "a"}}
	reg.Admit(context.Background(), a)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Delivery.Send(ctx, a, SendRequest{ReceiverID: "b", Content: "hi"})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send still blocked on the sink after its deadline")
	}
	if ms.MessageCount() != 1 {
		t.Fatalf("message should be persisted before the record is emitted")
	}
}

// stuckConversations 查询一直等到 ctx 结束
type stuckConversations struct{ *memory.Store }

func (stuckConversations) FindByPairKey(ctx context.Context, _ string) (model.Conversation, error) {
	<-ctx.Done()
	return model.Conversation{}, ctx.Err()
}

func TestResolveHonoursDeadline(t *testing.T) {
	ms := memory.New()
	_ = ms.PutIdentity(context.Background(), model.Identity{ID: "a"})
	_ = ms.PutIdentity(context.Background(), model.Identity{ID: "b"})
	r := NewResolver(ms, stuckConversations{ms}, func() string { return "c" }, time.Now)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "a", "b")
		done <- err
	}()
	select {
	case err := <-done:
		wantCode(t, err, errs.CodePersistence)
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve ignored the caller's deadline")
	}
}

// 握手之后改了昵称和头像，新消息带的是存储里的最新值
func TestSenderDisplayFollowsStore(t *testing.T) {
	f := newFixture(t, "a", "b")
	a, b := f.connect("a"), f.connect("b")
	if err := f.store.PutIdentity(context.Background(), model.Identity{ID: "a", Name: "Amy", Avatar: "amy.png"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.send(a, "b", "hi", "c1"); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*testConn{a, b} {
		got := c.named(event.MessageReceived)
		if len(got) != 1 {
			t.Fatalf("%s: %d message_received", c.id, len(got))
		}
		sender := got[0].Data.(event.MessagePayload).Sender
		if sender.Name != "Amy" || sender.Avatar != "amy.png" {
			t.Fatalf("%s: sender = %+v", c.id, sender)
		}
	}
}
