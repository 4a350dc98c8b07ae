// Package mgo MongoDB 连接管理：后台带退避地建连，连上后周期性健康检查
package mgo

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "PPDirect/data/database/mgo/mongoutil"
	"PPDirect/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
)

type Options struct {
	HealthEvery time.Duration // 健康检查周期
	FailThresh  int           // 连续失败多少次记为不健康
}

func (o *Options) norm() {
	if o.HealthEvery <= 0 {
		o.HealthEvery = 10 * time.Second
	}
	if o.FailThresh <= 0 {
		o.FailThresh = 3
	}
}

// MongoManager 只建一次 client；掉线后的重连交给驱动，这里只负责标记健康状态，
// 这样 store 持有的 *mongo.Database 始终有效
type MongoManager struct {
	cfg  *mgo.Config
	opts Options

	mu      sync.RWMutex
	client  *mgo.Client
	readyCh chan struct{}
	started atomic.Bool
	healthy atomic.Bool
	lastErr atomic.Value // error
	done    chan struct{}
}

var ErrNotStarted = errors.New("mongo manager not started")

func NewManager(cfg *mgo.Config, opts Options) *MongoManager {
	opts.norm()
	return &MongoManager{cfg: cfg, opts: opts, readyCh: make(chan struct{}), done: make(chan struct{})}
}

// StartAsync 一直运行到 ctx 结束；结束时断开连接并关闭 Done()
func (m *MongoManager) StartAsync(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)
		cli, ok := m.connect(ctx)
		if !ok {
			return
		}
		m.mu.Lock()
		m.client = cli
		m.mu.Unlock()
		m.healthy.Store(true)
		close(m.readyCh)
		logger.Info("[mongo] connected", zap.String("db", m.cfg.Database))

		m.watch(ctx, cli)

		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cli.Close(dctx)
		m.healthy.Store(false)
	}()
}

// connect 连接阶段：退避 + 抖动，直到成功或 ctx 结束
func (m *MongoManager) connect(ctx context.Context) (*mgo.Client, bool) {
	for attempt := 0; ; attempt++ {
		cli, err := mgo.NewMongoDB(ctx, m.cfg)
		if err == nil {
			return cli, true
		}
		m.lastErr.Store(err)
		logger.Warn("[mongo] connect failed", zap.Int("attempt", attempt+1), zap.Error(err))

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
	}
}

// watch 健康检查阶段
func (m *MongoManager) watch(ctx context.Context, cli *mgo.Client) {
	t := time.NewTicker(m.opts.HealthEvery)
	defer t.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, m.opts.HealthEvery)
		err := cli.Ping(pctx)
		cancel()
		if err == nil {
			if fail >= m.opts.FailThresh {
				logger.Info("[mongo] healthy again")
			}
			fail = 0
			m.healthy.Store(true)
			continue
		}
		fail++
		m.lastErr.Store(err)
		if fail == m.opts.FailThresh {
			m.healthy.Store(false)
			logger.Warn("[mongo] marked unhealthy", zap.Int("fails", fail), zap.Error(err))
		}
	}
}

// backoff 第 attempt 次失败后的等待时间，封顶 maxBackoff，减去 0~10% 抖动
func backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	return d - time.Duration(rand.Int63n(int64(d/10)+1))
}

// Ready 首次连接成功时关闭
func (m *MongoManager) Ready() <-chan struct{} { return m.readyCh }

// Done 后台协程退出（连接已断开）时关闭
func (m *MongoManager) Done() <-chan struct{} { return m.done }

func (m *MongoManager) Healthy() bool { return m.healthy.Load() }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// WaitReady 阻塞到首次连接成功或 ctx 结束
func (m *MongoManager) WaitReady(ctx context.Context) error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-m.readyCh:
		return nil
	case <-m.done:
		return ErrNotStarted
	case <-ctx.Done():
		return ctx.Err()
	}
}
