package service

import (
	"context"

	"PPDirect/tools/errs"
)

// ActiveChats 连接当前打开的会话（join_chat / leave_chat）
type ActiveChats struct {
	resolver *Resolver
}

func (a *ActiveChats) Join(ctx context.Context, conn Conn, chatID string) error {
	if chatID == "" {
		return errs.ErrInvalidArgument.WrapMsg("chatId is required")
	}
	ok, err := a.resolver.IsMember(ctx, chatID, conn.Identity().ID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotFound.WrapMsg("chat", "id", chatID)
	}
	conn.SetActiveChat(chatID)
	return nil
}

func (a *ActiveChats) Leave(conn Conn) {
	conn.SetActiveChat("")
}
