package natsx

import (
	"context"

	"PPDirect/module/chat/event"
)

const (
	// BizDomainEvents 领域事件在 NATS 上的业务路由名
	BizDomainEvents = "domain_events"
	// EventStream JetStream 模式下承载领域事件的 stream
	EventStream = "PPDIRECT_EVENTS"
)

// EventSink 把领域事件发布到 NATS；Nats-Msg-Id = Record.ID，JetStream 下重试不会重复
type EventSink struct {
	mgr *NatsManager
	hdr map[string]string
}

var _ event.Sink = (*EventSink)(nil)

// NewEventSink 注册路由；hdr 是每条消息都带的附加头
func NewEventSink(mgr *NatsManager, subject string, mode NatsxMode, hdr map[string]string) (*EventSink, error) {
	r := NatsxRoute{Biz: BizDomainEvents, Subject: subject, Mode: mode}
	if mode == JetStream {
		r.Stream = EventStream
	}
	if err := mgr.RegisterRoute(r); err != nil {
		return nil, err
	}
	return &EventSink{mgr: mgr, hdr: hdr}, nil
}

func (s *EventSink) Emit(ctx context.Context, r event.Record) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	h := make(map[string]string, len(s.hdr)+2)
	for k, v := range s.hdr {
		h[k] = v
	}
	h["Event-Kind"] = r.Kind
	h["Event-Key"] = r.Key
	return s.mgr.Publish(ctx, BizDomainEvents, data, h, r.ID)
}

func (s *EventSink) Close() error { return s.mgr.Close() }
