package natsx

import (
	"context"
	"fmt"
	"time"
)

// NatsManager 统一门面：连接、路由、发布
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	sync     *NatsxSyncPublisher
}

func NewNatsManager(cfg NatsxConfig) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	p := NewNatsxProducer(c)
	return &NatsManager{
		client:   c,
		producer: p,
		sync:     &NatsxSyncPublisher{P: p, Retries: 2, Backoff: 100 * time.Millisecond},
	}, nil
}

// Close 释放连接
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// Publish 同步发布（带重试与 Nats-Msg-Id）
func (m *NatsManager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if m == nil || m.producer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.sync.Publish(ctx, biz, data, hdr, msgID)
}
