// Package presence 进程内在线状态：同一身份可以有多条连接，
// 第一条连接上线、最后一条连接断开才改变在线状态。
package presence

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"PPDirect/logger"
	"PPDirect/module/chat/event"
	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"

	"go.uber.org/zap"
)

const stripeCount = 64

// Session 注册表看到的一条连接
type Session interface {
	ID() string
	Identity() model.Identity
	ActiveChat() string
	// Deliver 非阻塞投递，队列满返回 false
	Deliver(ev event.Event) bool
}

// Mirror 会话镜像（例如 redis），尽力而为
type Mirror interface {
	SessionUp(ctx context.Context, identityID, sessionID string) error
	SessionDown(ctx context.Context, identityID, sessionID string) error
	Heartbeat(ctx context.Context, identityID, sessionID string) error
}

type entry struct {
	sessions map[string]Session

	desired   bool      // 由连接集合推出的在线状态
	desiredAt time.Time // desired 最近一次变化的时间，即 last-seen
	written   bool      // 已持久化并广播的状态
	flushing  bool      // 是否有 goroutine 正在写这个身份
}

type stripe struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type Registry struct {
	stripes [stripeCount]stripe

	identities     store.Identities
	sink           event.Sink
	mirror         Mirror
	now            func() time.Time
	persistTimeout time.Duration
	log            *zap.Logger
}

type Option func(*Registry)

func WithSink(s event.Sink) Option { return func(r *Registry) { r.sink = s } }

func WithMirror(m Mirror) Option { return func(r *Registry) { r.mirror = m } }

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithPersistTimeout(d time.Duration) Option {
	return func(r *Registry) { r.persistTimeout = d }
}

func New(identities store.Identities, opts ...Option) *Registry {
	r := &Registry{
		identities:     identities,
		sink:           event.NopSink{},
		now:            time.Now,
		persistTimeout: 5 * time.Second,
		log:            logger.With(zap.String("component", "presence")),
	}
	for i := range r.stripes {
		r.stripes[i].entries = make(map[string]*entry)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) stripeOf(identityID string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identityID))
	return &r.stripes[h.Sum32()%stripeCount]
}

// Admit 登记连接；该身份的第一条连接会触发上线持久化与广播。
// 新连接会先收到 online_snapshot。
func (r *Registry) Admit(ctx context.Context, s Session) {
	id := s.Identity().ID
	st := r.stripeOf(id)

	st.mu.Lock()
	e, ok := st.entries[id]
	if !ok {
		e = &entry{sessions: make(map[string]Session)}
		st.entries[id] = e
	}
	e.sessions[s.ID()] = s
	if !e.desired {
		e.desired = true
		e.desiredAt = r.now()
	}
	flush := r.claimFlush(e)
	st.mu.Unlock()

	s.Deliver(event.NewOnlineSnapshot(r.OnlineSnapshot()))

	if r.mirror != nil {
		if err := r.mirror.SessionUp(r.detached(ctx), id, s.ID()); err != nil {
			r.log.Warn("session mirror up failed", zap.String("identity", id), zap.Error(err))
		}
	}
	if flush {
		r.flush(ctx, id)
	}
}

// Remove 注销连接；最后一条连接断开时持久化离线。重复 Remove 无副作用。
func (r *Registry) Remove(ctx context.Context, s Session) {
	id := s.Identity().ID
	st := r.stripeOf(id)

	st.mu.Lock()
	e, ok := st.entries[id]
	if !ok {
		st.mu.Unlock()
		return
	}
	if _, ok := e.sessions[s.ID()]; !ok {
		st.mu.Unlock()
		return
	}
	delete(e.sessions, s.ID())
	if len(e.sessions) == 0 && e.desired {
		e.desired = false
		e.desiredAt = r.now()
	}
	flush := r.claimFlush(e)
	r.gc(st, id, e)
	st.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.SessionDown(r.detached(ctx), id, s.ID()); err != nil {
			r.log.Warn("session mirror down failed", zap.String("identity", id), zap.Error(err))
		}
	}
	if flush {
		r.flush(ctx, id)
	}
}

// Touch 心跳，仅刷新镜像
func (r *Registry) Touch(ctx context.Context, s Session) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Heartbeat(r.detached(ctx), s.Identity().ID, s.ID()); err != nil {
		r.log.Debug("session mirror heartbeat failed", zap.String("identity", s.Identity().ID), zap.Error(err))
	}
}

// claimFlush 需持有 stripe 锁
func (r *Registry) claimFlush(e *entry) bool {
	if e.flushing || e.desired == e.written {
		return false
	}
	e.flushing = true
	return true
}

// gc 需持有 stripe 锁
func (r *Registry) gc(st *stripe, id string, e *entry) {
	if len(e.sessions) == 0 && !e.flushing && !e.desired && !e.written {
		delete(st.entries, id)
	}
}

// flush 同一身份同一时刻只有一个 flusher；每轮写入最新的 desired，
// 直到 written 追上 desired。持久化和广播都在锁外。
func (r *Registry) flush(ctx context.Context, id string) {
	st := r.stripeOf(id)
	for {
		st.mu.Lock()
		e := st.entries[id]
		if e.desired == e.written {
			e.flushing = false
			r.gc(st, id, e)
			st.mu.Unlock()
			return
		}
		online, at := e.desired, e.desiredAt
		st.mu.Unlock()

		pctx, cancel := context.WithTimeout(r.detached(ctx), r.persistTimeout)
		if err := r.identities.SetPresence(pctx, id, online, at); err != nil {
			r.log.Warn("persist presence failed",
				zap.String("identity", id), zap.Bool("online", online), zap.Error(err))
		}
		if err := r.sink.Emit(pctx, event.NewRecord(event.KindPresenceChanged, id,
			event.PresencePayload{IdentityID: id, Online: online, LastSeen: at})); err != nil {
			r.log.Warn("emit presence record failed", zap.String("identity", id), zap.Error(err))
		}
		cancel()

		r.Broadcast(event.NewPresenceChanged(id, online, at), id)

		st.mu.Lock()
		e.written = online
		st.mu.Unlock()
	}
}

func (r *Registry) detached(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

// Sessions 某身份当前的连接快照
func (r *Registry) Sessions(identityID string) []Session {
	st := r.stripeOf(identityID)
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[identityID]
	if !ok {
		return nil
	}
	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IsOnline(identityID string) bool {
	st := r.stripeOf(identityID)
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[identityID]
	return ok && len(e.sessions) > 0
}

// OnlineSnapshot 当前至少有一条连接的身份，按 id 排序
func (r *Registry) OnlineSnapshot() []string {
	out := make([]string, 0)
	for i := range r.stripes {
		st := &r.stripes[i]
		st.mu.Lock()
		for id, e := range st.entries {
			if len(e.sessions) > 0 {
				out = append(out, id)
			}
		}
		st.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// Publish 投递给某身份的所有连接，返回成功入队的连接数
func (r *Registry) Publish(identityID string, ev event.Event) int {
	n := 0
	for _, s := range r.Sessions(identityID) {
		if s.Deliver(ev) {
			n++
		}
	}
	return n
}

// Broadcast 投递给除 exceptIdentity 外的所有在线身份
func (r *Registry) Broadcast(ev event.Event, exceptIdentity string) {
	var targets []Session
	for i := range r.stripes {
		st := &r.stripes[i]
		st.mu.Lock()
		for id, e := range st.entries {
			if id == exceptIdentity {
				continue
			}
			for _, s := range e.sessions {
				targets = append(targets, s)
			}
		}
		st.mu.Unlock()
	}
	for _, s := range targets {
		s.Deliver(ev)
	}
}
