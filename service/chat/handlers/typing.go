package handlers

import (
	"context"

	"PPDirect/service/chat"
	"PPDirect/tools/decode"
	"PPDirect/tools/errs"
)

type typingReq struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type TypingHandler struct{}

func NewTypingHandler() chat.Handler   { return &TypingHandler{} }
func (h *TypingHandler) Event() string { return chat.EvTyping }

func (h *TypingHandler) Handle(ctx context.Context, c *chat.ChatContext, data map[string]any, conn *chat.WsConn) error {
	req, err := decode.Decode[typingReq](data)
	if err != nil {
		return errs.ErrInvalidArgument.WrapMsg("bad payload", "err", err.Error())
	}
	return c.S.Svc().Typing.Relay(ctx, conn, req.ReceiverID, req.IsTyping)
}
