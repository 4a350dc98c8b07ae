// Package storetest 各存储后端共用的行为测试
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"
)

var seq atomic.Int64

// uid 每次调用返回新的 id，避免共享数据库里的用例互相干扰
func uid(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

// Run 对 newStore 返回的后端跑全部用例
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Identities", testIdentities},
		{"Blocks", testBlocks},
		{"CreatePrivate", testCreatePrivate},
		{"CreatePrivateRace", testCreatePrivateRace},
		{"Messages", testMessages},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close(context.Background()) })
			tc.fn(t, s)
		})
	}
}

func testIdentities(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := uid("idn")
	if _, err := s.GetIdentity(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetIdentity(unknown) err = %v, want ErrNotFound", err)
	}
	if err := s.PutIdentity(ctx, model.Identity{ID: id, Name: "Amy", Avatar: "a.png"}); err != nil {
		t.Fatalf("PutIdentity: %v", err)
	}
	seen := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.SetPresence(ctx, id, true, seen); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	got, err := s.GetIdentity(ctx, id)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if got.Name != "Amy" || got.Avatar != "a.png" || !got.Online || !got.LastSeen.Equal(seen) {
		t.Fatalf("identity mismatch: %+v (want lastSeen %v)", got, seen)
	}
	if err := s.SetPresence(ctx, id, false, seen.Add(time.Second)); err != nil {
		t.Fatalf("SetPresence offline: %v", err)
	}
	if got, _ = s.GetIdentity(ctx, id); got.Online {
		t.Fatalf("identity still online")
	}
	if err := s.SetPresence(ctx, uid("ghost"), true, seen); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SetPresence(unknown) err = %v, want ErrNotFound", err)
	}
}

func testBlocks(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := uid("blk-a"), uid("blk-b")
	if blocked, err := s.IsBlocked(ctx, b, a); err != nil || blocked {
		t.Fatalf("IsBlocked before put = %v, %v", blocked, err)
	}
	if err := s.PutBlock(ctx, model.BlockRelation{BlockerID: b, BlockedID: a, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	if blocked, err := s.IsBlocked(ctx, b, a); err != nil || !blocked {
		t.Fatalf("IsBlocked(b blocks a) = %v, %v", blocked, err)
	}
	// 有向
	if blocked, err := s.IsBlocked(ctx, a, b); err != nil || blocked {
		t.Fatalf("IsBlocked(a blocks b) = %v, %v; relation must be directed", blocked, err)
	}
}

func newConv(a, b string) (model.Conversation, [2]model.Membership) {
	return model.NewConversation(uid("conv"), a, b, time.Now().UTC().Truncate(time.Millisecond))
}

func testCreatePrivate(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := uid("cp-a"), uid("cp-b")
	c, ms := newConv(a, b)

	if _, err := s.FindByPairKey(ctx, c.PairKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindByPairKey before create err = %v", err)
	}
	if err := s.CreatePrivate(ctx, c, ms); err != nil {
		t.Fatalf("CreatePrivate: %v", err)
	}
	got, err := s.FindByPairKey(ctx, model.PairKey(b, a))
	if err != nil {
		t.Fatalf("FindByPairKey: %v", err)
	}
	if got.ID != c.ID || len(got.Members) != 2 {
		t.Fatalf("conversation mismatch: %+v", got)
	}
	if byID, err := s.GetConversation(ctx, c.ID); err != nil || byID.PairKey != c.PairKey {
		t.Fatalf("GetConversation: %+v %v", byID, err)
	}
	if _, err := s.GetConversation(ctx, uid("nope")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetConversation(unknown) err = %v", err)
	}
	for _, id := range []string{a, b} {
		if ok, err := s.IsMember(ctx, c.ID, id); err != nil || !ok {
			t.Fatalf("IsMember(%s) = %v, %v", id, ok, err)
		}
	}
	if ok, _ := s.IsMember(ctx, c.ID, uid("stranger")); ok {
		t.Fatalf("stranger reported as member")
	}

	dup, dupMs := newConv(b, a)
	if err := s.CreatePrivate(ctx, dup, dupMs); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("second CreatePrivate err = %v, want ErrDuplicate", err)
	}
	// 失败的创建不能留下成员关系
	if ok, _ := s.IsMember(ctx, dup.ID, a); ok {
		t.Fatalf("failed create left a membership behind")
	}
}

func testCreatePrivateRace(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := uid("race-a"), uid("race-b")
	const n = 8
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
		dups atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x, y := a, b
			if i%2 == 1 {
				x, y = b, a
			}
			c, ms := newConv(x, y)
			switch err := s.CreatePrivate(ctx, c, ms); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrDuplicate):
				dups.Add(1)
			default:
				t.Errorf("CreatePrivate: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 || dups.Load() != n-1 {
		t.Fatalf("wins=%d dups=%d, want exactly one winner", wins.Load(), dups.Load())
	}
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := uid("msg-a"), uid("msg-b")
	c, ms := newConv(a, b)
	if err := s.CreatePrivate(ctx, c, ms); err != nil {
		t.Fatalf("CreatePrivate: %v", err)
	}

	put := func(from, to string, read bool) {
		t.Helper()
		m := model.Message{
			ID: uid("m"), ConversationID: c.ID, SenderID: from, ReceiverID: to,
			Content: "hi", Type: model.MsgTypeText, CreatedAt: time.Now().UTC(), Read: read,
		}
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}
	put(a, b, false)
	put(a, b, false)
	put(a, b, true)
	put(b, a, false)

	count := func(who string) int64 {
		t.Helper()
		n, err := s.CountUnread(ctx, c.ID, who)
		if err != nil {
			t.Fatalf("CountUnread: %v", err)
		}
		return n
	}
	if got := count(b); got != 2 {
		t.Fatalf("unread for b = %d, want 2", got)
	}
	if got := count(a); got != 1 {
		t.Fatalf("unread for a = %d, want 1", got)
	}

	flipped, err := s.MarkRead(ctx, c.ID, b)
	if err != nil || flipped != 2 {
		t.Fatalf("MarkRead(b) = %d, %v; want 2", flipped, err)
	}
	if got := count(b); got != 0 {
		t.Fatalf("unread for b after MarkRead = %d", got)
	}
	// a 的未读不受影响
	if got := count(a); got != 1 {
		t.Fatalf("unread for a changed to %d", got)
	}
	// 幂等
	if flipped, err := s.MarkRead(ctx, c.ID, b); err != nil || flipped != 0 {
		t.Fatalf("second MarkRead = %d, %v", flipped, err)
	}
}
