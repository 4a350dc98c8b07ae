package service

import (
	"context"

	"PPDirect/module/chat/store"
	"PPDirect/tools/errs"
)

// Guard 接收方拉黑了发送方则拒绝
type Guard struct {
	blocks store.Blocks
}

func NewGuard(blocks store.Blocks) *Guard { return &Guard{blocks: blocks} }

func (g *Guard) Check(ctx context.Context, senderID, receiverID string) error {
	blocked, err := g.blocks.IsBlocked(ctx, receiverID, senderID)
	if err != nil {
		return persistErr(err, "read block state", "blocker", receiverID, "blocked", senderID)
	}
	if blocked {
		return errs.ErrBlocked.Wrap()
	}
	return nil
}
