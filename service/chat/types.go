package chat

import (
	"context"
)

// Handler 一个上行事件一个 handler
type Handler interface {
	Event() string
	Handle(ctx context.Context, c *ChatContext, data map[string]any, conn *WsConn) error
}

type ChatContext struct {
	S *Server
}
