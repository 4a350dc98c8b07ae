// Package service 私聊核心：鉴权、拉黑校验、会话解析、消息投递、已读与输入状态
package service

import (
	"context"
	"time"

	"PPDirect/module/chat/event"
	"PPDirect/module/chat/store"
	"PPDirect/module/presence"
	"PPDirect/tools/errs"
	"PPDirect/tools/ids"
	"PPDirect/tools/safe"
	"PPDirect/tools/security"
)

// callTimeout 调用方没有截止时间时，脱离取消的存储 / 事件调用的上限
const callTimeout = 10 * time.Second

// Hub 由在线注册表提供的投递能力
type Hub interface {
	Publish(identityID string, ev event.Event) int
	Sessions(identityID string) []presence.Session
}

// Conn 发起请求的那条连接
type Conn interface {
	presence.Session
	SetActiveChat(chatID string)
}

type Config struct {
	MaxContentLen int
	DefaultType   string
	Token         security.Options
}

type Deps struct {
	Store store.Store
	Hub   Hub
	Sink  event.Sink

	// 可选，测试里替换
	NewID func() string
	Now   func() time.Time
}

// Service 各组件的集合，传输层只依赖它
type Service struct {
	Auth     *Authenticator
	Guard    *Guard
	Resolver *Resolver
	Delivery *Delivery
	Receipts *Receipts
	Typing   *Typing
	Chats    *ActiveChats
}

func New(cfg Config, d Deps) *Service {
	safe.MustNotNil(d.Store, "store")
	safe.MustNotNil(d.Hub, "hub")
	if d.Sink == nil {
		d.Sink = event.NopSink{}
	}
	if d.NewID == nil {
		d.NewID = ids.GenerateString
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.MaxContentLen <= 0 {
		cfg.MaxContentLen = 4000
	}
	if cfg.DefaultType == "" {
		cfg.DefaultType = "text"
	}

	guard := NewGuard(d.Store)
	resolver := NewResolver(d.Store, d.Store, d.NewID, d.Now)
	return &Service{
		Auth:     NewAuthenticator(cfg.Token, d.Store),
		Guard:    guard,
		Resolver: resolver,
		Delivery: &Delivery{
			guard:    guard,
			resolver: resolver,
			hub:      d.Hub,
			msgs:     d.Store,
			sink:     d.Sink,
			newID:    d.NewID,
			now:      d.Now,
			maxLen:   cfg.MaxContentLen,
			defType:  cfg.DefaultType,
		},
		Receipts: &Receipts{resolver: resolver, msgs: d.Store, hub: d.Hub, sink: d.Sink},
		Typing:   &Typing{hub: d.Hub},
		Chats:    &ActiveChats{resolver: resolver},
	}
}

// persistErr 存储层错误统一映射为 ErrPersistence，原始错误留在 detail 里供日志使用
func persistErr(err error, op string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errs.ErrPersistence.WrapMsg(op, append(kv, "err", err.Error())...)
}

// detach 不随调用方取消，但保留其截止时间
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(callTimeout)
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}

// emit 领域事件发布失败只记日志
func emit(ctx context.Context, sink event.Sink, rec event.Record) {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := sink.Emit(ctx, rec); err != nil {
		logWarn("emit domain record failed", "kind", rec.Kind, "key", rec.Key, "err", err)
	}
}
