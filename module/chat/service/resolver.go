package service

import (
	"context"
	"errors"
	"time"

	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"
	"PPDirect/tools/errs"

	"golang.org/x/sync/singleflight"
)

// Resolver 两个身份 -> 唯一的私聊会话，不存在则创建
type Resolver struct {
	identities store.Identities
	convs      store.Conversations
	newID      func() string
	now        func() time.Time

	flight singleflight.Group // 同进程同一对身份的并发解析合并为一次
}

func NewResolver(identities store.Identities, convs store.Conversations, newID func() string, now func() time.Time) *Resolver {
	return &Resolver{identities: identities, convs: convs, newID: newID, now: now}
}

// Resolve 查找或创建 a 与 b 的会话。
// 跨进程的竞争由存储层 pair_key 唯一约束裁决，输家重新读取赢家的会话。
func (r *Resolver) Resolve(ctx context.Context, a, b string) (model.Conversation, error) {
	if a == "" || b == "" || a == b {
		return model.Conversation{}, errs.ErrInvalidArgument.WrapMsg("conversation needs two distinct identities")
	}
	for _, id := range []string{a, b} {
		if _, err := r.identities.GetIdentity(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return model.Conversation{}, errs.ErrNotFound.WrapMsg("identity", "id", id)
			}
			return model.Conversation{}, persistErr(err, "load identity", "id", id)
		}
	}

	key := model.PairKey(a, b)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		fctx, cancel := detach(ctx)
		defer cancel()
		return r.findOrCreate(fctx, key, a, b)
	})
	if err != nil {
		return model.Conversation{}, err
	}
	return v.(model.Conversation), nil
}

func (r *Resolver) findOrCreate(ctx context.Context, key, a, b string) (model.Conversation, error) {
	c, err := r.convs.FindByPairKey(ctx, key)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Conversation{}, persistErr(err, "find conversation", "pair_key", key)
	}

	c, members := model.NewConversation(r.newID(), a, b, r.now())
	err = r.convs.CreatePrivate(ctx, c, members)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, store.ErrDuplicate):
		// 另一个写入者先创建了
		winner, ferr := r.convs.FindByPairKey(ctx, key)
		if ferr != nil {
			return model.Conversation{}, persistErr(ferr, "refetch conversation", "pair_key", key)
		}
		return winner, nil
	default:
		return model.Conversation{}, persistErr(err, "create conversation", "pair_key", key)
	}
}

func (r *Resolver) IsMember(ctx context.Context, conversationID, identityID string) (bool, error) {
	ok, err := r.convs.IsMember(ctx, conversationID, identityID)
	if err != nil {
		return false, persistErr(err, "check membership", "chat", conversationID)
	}
	return ok, nil
}

// Peer 会话里的另一方；非成员或会话不存在返回 ErrNotFound
func (r *Resolver) Peer(ctx context.Context, conversationID, identityID string) (string, error) {
	if conversationID == "" {
		return "", errs.ErrInvalidArgument.WrapMsg("chatId is required")
	}
	c, err := r.convs.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return "", errs.ErrNotFound.WrapMsg("chat", "id", conversationID)
	}
	if err != nil {
		return "", persistErr(err, "load conversation", "chat", conversationID)
	}
	peer, ok := c.Peer(identityID)
	if !ok {
		return "", errs.ErrNotFound.WrapMsg("chat", "id", conversationID)
	}
	return peer, nil
}
