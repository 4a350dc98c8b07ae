package handlers

import (
	"context"

	"PPDirect/service/chat"
	"PPDirect/tools/decode"
	"PPDirect/tools/errs"
)

type chatReq struct {
	ChatID string `json:"chatId"`
}

func decodeChat(data map[string]any) (string, error) {
	req, err := decode.Decode[chatReq](data)
	if err != nil {
		return "", errs.ErrInvalidArgument.WrapMsg("bad payload", "err", err.Error())
	}
	return req.ChatID, nil
}

// join_chat：之后发给该连接身份、属于这个会话的消息直接记为已读
type JoinChatHandler struct{}

func NewJoinChatHandler() chat.Handler   { return &JoinChatHandler{} }
func (h *JoinChatHandler) Event() string { return chat.EvJoinChat }

func (h *JoinChatHandler) Handle(ctx context.Context, c *chat.ChatContext, data map[string]any, conn *chat.WsConn) error {
	chatID, err := decodeChat(data)
	if err != nil {
		return err
	}
	return c.S.Svc().Chats.Join(ctx, conn, chatID)
}

type LeaveChatHandler struct{}

func NewLeaveChatHandler() chat.Handler   { return &LeaveChatHandler{} }
func (h *LeaveChatHandler) Event() string { return chat.EvLeaveChat }

func (h *LeaveChatHandler) Handle(_ context.Context, c *chat.ChatContext, _ map[string]any, conn *chat.WsConn) error {
	c.S.Svc().Chats.Leave(conn)
	return nil
}

type MarkReadHandler struct{}

func NewMarkReadHandler() chat.Handler   { return &MarkReadHandler{} }
func (h *MarkReadHandler) Event() string { return chat.EvMarkRead }

func (h *MarkReadHandler) Handle(ctx context.Context, c *chat.ChatContext, data map[string]any, conn *chat.WsConn) error {
	chatID, err := decodeChat(data)
	if err != nil {
		return err
	}
	_, err = c.S.Svc().Receipts.MarkRead(ctx, conn, chatID)
	return err
}

type UnreadCountHandler struct{}

func NewUnreadCountHandler() chat.Handler   { return &UnreadCountHandler{} }
func (h *UnreadCountHandler) Event() string { return chat.EvGetUnreadCount }

func (h *UnreadCountHandler) Handle(ctx context.Context, c *chat.ChatContext, data map[string]any, conn *chat.WsConn) error {
	chatID, err := decodeChat(data)
	if err != nil {
		return err
	}
	_, err = c.S.Svc().Receipts.UnreadCount(ctx, conn, chatID)
	return err
}
