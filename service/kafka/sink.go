package kafka

import (
	"context"

	"github.com/Shopify/sarama"

	"PPDirect/module/chat/event"
	"PPDirect/tools/errs"
)

// EventSink 把领域事件写入单个 Topic，Key = Record.Key（会话 id / 身份 id）
type EventSink struct {
	p     sarama.SyncProducer
	topic string
	owned []interface{ Close() error }
}

var _ event.Sink = (*EventSink)(nil)

// NewEventSink 连接集群、按需建 Topic 并创建同步生产者
func NewEventSink(c Config, ensure bool) (*EventSink, error) {
	c.norm()
	cfg := BuildProducerConfig(c)
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if ensure {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		// admin 与 client 共用连接，这里不能 Close admin
		if err := EnsureTopic(admin, c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	s := NewEventSinkWithProducer(p, c.Topic)
	s.owned = append(s.owned, client)
	return s, nil
}

// NewEventSinkWithProducer 测试或自定义生产者时使用
func NewEventSinkWithProducer(p sarama.SyncProducer, topic string) *EventSink {
	return &EventSink{p: p, topic: topic}
}

func (s *EventSink) Emit(ctx context.Context, r event.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(r.Key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("Event-Kind"), Value: []byte(r.Kind)},
			{Key: []byte("Event-Id"), Value: []byte(r.ID)},
		},
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", s.topic, "kind", r.Kind)
	}
	return nil
}

func (s *EventSink) Close() error {
	err := s.p.Close()
	for _, c := range s.owned {
		_ = c.Close()
	}
	return err
}
