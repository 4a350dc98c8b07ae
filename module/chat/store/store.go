package store

import (
	"context"
	"errors"
	"time"

	"PPDirect/module/chat/model"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

// Identities 外部身份库；核心只写在线状态
type Identities interface {
	GetIdentity(ctx context.Context, id string) (model.Identity, error)
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
}

// Blocks 只读
type Blocks interface {
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
}

type Conversations interface {
	FindByPairKey(ctx context.Context, pairKey string) (model.Conversation, error)
	// CreatePrivate 会话 + 两条成员关系原子写入；pair_key 冲突返回 ErrDuplicate
	CreatePrivate(ctx context.Context, c model.Conversation, members [2]model.Membership) error
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	IsMember(ctx context.Context, conversationID, identityID string) (bool, error)
}

type Messages interface {
	InsertMessage(ctx context.Context, m model.Message) error
	CountUnread(ctx context.Context, conversationID, recipientID string) (int64, error)
	// MarkRead 只翻转 read=false 的消息，返回翻转条数
	MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error)
}

// Seeder 外部协作方数据（身份、拉黑）的写入口，测试与本地联调使用
type Seeder interface {
	PutIdentity(ctx context.Context, i model.Identity) error
	PutBlock(ctx context.Context, b model.BlockRelation) error
}

// Store 一个后端实现全部端口
type Store interface {
	Identities
	Blocks
	Conversations
	Messages
	Seeder
	Close(ctx context.Context) error
}
