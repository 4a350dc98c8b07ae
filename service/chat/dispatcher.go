package chat

import (
	"context"

	"PPDirect/tools/errs"
	"PPDirect/tools/safe"

	"github.com/golang/glog"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register 只在启动阶段调用
func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) GetHandler(name string) Handler {
	h, ok := d.handlers[name]
	if !ok {
		glog.Infof("no handler for event=%s", name)
		return nil
	}
	return h
}

// Dispatch handler 的 panic 也转成 error，连接不会因此断开
func (d *Dispatcher) Dispatch(ctx context.Context, c *ChatContext, f *Frame, conn *WsConn) (err error) {
	h := d.GetHandler(f.Event)
	if h == nil {
		return errs.ErrUnsupportedEvent.WrapMsg("", "event", f.Event)
	}
	defer safe.Recover(&err)
	return h.Handle(ctx, c, f.Data, conn)
}
