package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"PPDirect/module/chat/event"
	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"
	"PPDirect/tools/errs"

	"go.uber.org/zap"
)

type SendRequest struct {
	ReceiverID    string `json:"receiverId"`
	Content       string `json:"content"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId"`
}

// Delivery 发送消息的完整流程：
// 拉黑校验 -> 解析会话 -> 判断即时已读 -> 落库 -> 投递与回显 -> 未读数推送 -> 领域事件
type Delivery struct {
	guard    *Guard
	resolver *Resolver
	hub      Hub
	msgs     store.Messages
	sink     event.Sink
	newID    func() string
	now      func() time.Time
	maxLen   int
	defType  string
}

func (d *Delivery) validate(req *SendRequest) error {
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" {
		return errs.ErrInvalidArgument.WrapMsg("receiverId is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return errs.ErrInvalidArgument.WrapMsg("content is required")
	}
	if utf8.RuneCountInString(req.Content) > d.maxLen {
		return errs.ErrInvalidArgument.WrapMsg("content too long", "max", d.maxLen)
	}
	if req.Type == "" {
		req.Type = d.defType
	}
	return nil
}

// Send 失败时不落库、不投递；错误由调用方转成 error 事件回给发送连接
func (d *Delivery) Send(ctx context.Context, conn Conn, req SendRequest) (model.Message, error) {
	if err := d.validate(&req); err != nil {
		return model.Message{}, err
	}
	sender := conn.Identity()
	if req.ReceiverID == sender.ID {
		return model.Message{}, errs.ErrInvalidArgument.WrapMsg("cannot message yourself")
	}

	// 1) 拉黑
	if err := d.guard.Check(ctx, sender.ID, req.ReceiverID); err != nil {
		return model.Message{}, err
	}

	// 2) 会话
	conv, err := d.resolver.Resolve(ctx, sender.ID, req.ReceiverID)
	if err != nil {
		return model.Message{}, err
	}
	// 展示字段以存储为准，握手之后改过昵称 / 头像也能带上；读失败沿用握手时的身份
	if cur, err := d.resolver.identities.GetIdentity(ctx, sender.ID); err == nil {
		sender = cur
	}

	// 3) 接收方有连接正停留在这个会话里，直接记为已读
	receivers := d.hub.Sessions(req.ReceiverID)
	read := false
	for _, s := range receivers {
		if s.ActiveChat() == conv.ID {
			read = true
			break
		}
	}

	// 4) 落库
	msg := model.Message{
		ID:             d.newID(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		Type:           req.Type,
		CreatedAt:      d.now().UTC(),
		Read:           read,
	}
	if err := d.msgs.InsertMessage(ctx, msg); err != nil {
		return model.Message{}, persistErr(err, "insert message", "chat", conv.ID)
	}

	// 5) 投递给接收方所有连接，并回显给发送连接
	d.hub.Publish(req.ReceiverID, event.NewMessageReceived(msg, sender, ""))
	conn.Deliver(event.NewMessageReceived(msg, sender, req.CorrelationID))

	// 6) 未读数总是从存储重新计算
	if !msg.Read {
		n, err := d.msgs.CountUnread(ctx, conv.ID, req.ReceiverID)
		if err != nil {
			logError("count unread after send failed", err, zap.String("chat", conv.ID))
		} else {
			d.hub.Publish(req.ReceiverID, event.NewUnreadCount(conv.ID, n))
		}
	}

	// 7)
	emit(ctx, d.sink, event.NewRecord(event.KindMessagePersisted, conv.ID,
		event.NewMessageReceived(msg, sender, "").Data))

	return msg, nil
}
