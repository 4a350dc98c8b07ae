package event

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// 领域事件类型
const (
	KindMessagePersisted = "message.persisted"
	KindMessageRead      = "message.read"
	KindPresenceChanged  = "presence.changed"
)

// Record 对外发布的领域事件；Key 用作分区 / 去重的路由键
type Record struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

func NewRecord(kind, key string, payload any) Record {
	return Record{
		ID:      uuid.NewString(),
		Kind:    kind,
		Key:     key,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

type MessageReadPayload struct {
	ChatID   string `json:"chatId"`
	ReaderID string `json:"readerId"`
	Flipped  int64  `json:"flipped"`
}

// Sink 领域事件出口，实现方自行决定是否阻塞；调用方只记录错误
type Sink interface {
	Emit(ctx context.Context, r Record) error
}

type NopSink struct{}

func (NopSink) Emit(context.Context, Record) error { return nil }

// MultiSink 依次投递，汇总所有错误
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc 方便测试里收集记录
type SinkFunc func(ctx context.Context, r Record) error

func (f SinkFunc) Emit(ctx context.Context, r Record) error { return f(ctx, r) }
