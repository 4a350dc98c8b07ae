package handlers

import (
	"context"

	"PPDirect/module/chat/service"
	"PPDirect/service/chat"
	"PPDirect/tools/decode"
	"PPDirect/tools/errs"
)

type SendHandler struct{}

func NewSendHandler() chat.Handler   { return &SendHandler{} }
func (h *SendHandler) Event() string { return chat.EvSendMessage }

func (h *SendHandler) Handle(ctx context.Context, c *chat.ChatContext, data map[string]any, conn *chat.WsConn) error {
	req, err := decode.Decode[service.SendRequest](data)
	if err != nil {
		return errs.ErrInvalidArgument.WrapMsg("bad payload", "err", err.Error())
	}
	_, err = c.S.Svc().Delivery.Send(ctx, conn, *req)
	return err
}
