package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"PPDirect/logger"
	"PPDirect/tools/safe"

	"go.uber.org/zap"
)

var (
	ErrSinkFull   = errors.New("event sink queue full")
	ErrSinkClosed = errors.New("event sink closed")
)

// AsyncSink 有界队列 + 单个后台协程，Emit 从不阻塞调用方。
// 队列满时丢弃记录并返回 ErrSinkFull；每条记录投递下游时带 timeout。
type AsyncSink struct {
	next    Sink
	timeout time.Duration
	queue   chan Record

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Int64
}

func NewAsyncSink(next Sink, size int, timeout time.Duration) *AsyncSink {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &AsyncSink{
		next:    next,
		timeout: timeout,
		queue:   make(chan Record, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	safe.SafeGo("event-sink", s.run)
	return s
}

func (s *AsyncSink) Emit(_ context.Context, r Record) error {
	select {
	case <-s.quit:
		return ErrSinkClosed
	default:
	}
	select {
	case s.queue <- r:
		return nil
	default:
		s.dropped.Add(1)
		return ErrSinkFull
	}
}

// Dropped 因队列满被丢弃的记录数
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		select {
		case r := <-s.queue:
			s.deliver(r)
		case <-s.quit:
			// 把已入队的投递完再退出
			for {
				select {
				case r := <-s.queue:
					s.deliver(r)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncSink) deliver(r Record) {
	defer safe.Recover(nil)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.next.Emit(ctx, r); err != nil {
		logger.Warn("async sink delivery failed",
			zap.String("kind", r.Kind), zap.String("key", r.Key), zap.Error(err))
	}
}

// Close 停止接收新记录，等待队列排空或 ctx 结束
func (s *AsyncSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.quit) })
	select {
	case <-s.done:
		if n := s.dropped.Load(); n > 0 {
			logger.Warn("async sink dropped records", zap.Int64("dropped", n))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
