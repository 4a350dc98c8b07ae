package service

import (
	"context"
	"strings"

	"PPDirect/module/chat/event"
	"PPDirect/tools/errs"
)

// Typing 输入状态直接转发，不落库
type Typing struct {
	hub Hub
}

func (t *Typing) Relay(ctx context.Context, conn Conn, receiverID string, isTyping bool) error {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return errs.ErrInvalidArgument.WrapMsg("receiverId is required")
	}
	me := conn.Identity().ID
	if receiverID == me {
		return nil
	}
	t.hub.Publish(receiverID, event.NewTypingStatus(me, isTyping))
	return nil
}
