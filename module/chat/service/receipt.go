package service

import (
	"context"

	"PPDirect/module/chat/event"
	"PPDirect/module/chat/store"
)

// Receipts 已读回执与未读数
type Receipts struct {
	resolver *Resolver
	msgs     store.Messages
	hub      Hub
	sink     event.Sink
}

// MarkRead 把会话里发给调用者的未读消息全部置为已读；
// 调用者所有连接收到最新未读数，对方收到 read_receipt
func (r *Receipts) MarkRead(ctx context.Context, conn Conn, chatID string) (int64, error) {
	me := conn.Identity().ID
	peer, err := r.resolver.Peer(ctx, chatID, me)
	if err != nil {
		return 0, err
	}

	flipped, err := r.msgs.MarkRead(ctx, chatID, me)
	if err != nil {
		return 0, persistErr(err, "mark read", "chat", chatID)
	}
	n, err := r.msgs.CountUnread(ctx, chatID, me)
	if err != nil {
		return flipped, persistErr(err, "count unread", "chat", chatID)
	}

	r.hub.Publish(me, event.NewUnreadCount(chatID, n))
	r.hub.Publish(peer, event.NewReadReceipt(chatID, me))

	emit(ctx, r.sink, event.NewRecord(event.KindMessageRead, chatID,
		event.MessageReadPayload{ChatID: chatID, ReaderID: me, Flipped: flipped}))
	return flipped, nil
}

// UnreadCount 每次都读存储，只回给请求的那条连接
func (r *Receipts) UnreadCount(ctx context.Context, conn Conn, chatID string) (int64, error) {
	me := conn.Identity().ID
	if _, err := r.resolver.Peer(ctx, chatID, me); err != nil {
		return 0, err
	}
	n, err := r.msgs.CountUnread(ctx, chatID, me)
	if err != nil {
		return 0, persistErr(err, "count unread", "chat", chatID)
	}
	conn.Deliver(event.NewUnreadCount(chatID, n))
	return n, nil
}
