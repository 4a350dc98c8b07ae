package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"PPDirect/global/config"
	mid "PPDirect/middleware"
	"PPDirect/module/chat/service"
	"PPDirect/module/presence"
	"PPDirect/tools/errs"
	"PPDirect/tools/specialerror"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Options struct {
	SendQueue     int
	ReadLimit     int64
	WriteWait     time.Duration
	PongWait      time.Duration
	PingPeriod    time.Duration
	HandleTimeout time.Duration
}

func OptionsFrom(c config.ChatConfig) Options {
	return Options{
		SendQueue:     c.SendQueue,
		ReadLimit:     c.ReadLimit,
		WriteWait:     c.WriteWait,
		PongWait:      c.PongWait,
		PingPeriod:    c.PingPeriod,
		HandleTimeout: c.HandleTimeout,
	}
}

func (o *Options) norm() {
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.HandleTimeout <= 0 {
		o.HandleTimeout = 10 * time.Second
	}
}

// SessionLookup redis 会话镜像的只读查询
type SessionLookup interface {
	IsOnline(ctx context.Context, identityID string) (bool, int64, error)
	ActiveSessions(ctx context.Context, identityID string) ([]string, error)
}

// Server 网关：鉴权升级、连接生命周期、事件分发
type Server struct {
	opts     Options
	svc      *service.Service
	reg      *presence.Registry
	disp     *Dispatcher
	lookup   SessionLookup // 可为 nil
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*WsConn
	closed bool
	wg     sync.WaitGroup
}

func NewServer(opts Options, svc *service.Service, reg *presence.Registry, disp *Dispatcher) *Server {
	opts.norm()
	return &Server{
		opts: opts,
		svc:  svc,
		reg:  reg,
		disp: disp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin 由 middleware.Origin 校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*WsConn),
	}
}

func (s *Server) Svc() *service.Service        { return s.svc }
func (s *Server) Registry() *presence.Registry { return s.reg }

// SetSessionLookup 启动阶段调用，之后不再修改
func (s *Server) SetSessionLookup(l SessionLookup) { s.lookup = l }

// Routes /ws 与 /presence 需要鉴权，/healthz 不需要
func (s *Server) Routes(r gin.IRoutes) {
	auth := mid.RouteOpt{IsAuth: true, Auth: s.svc.Auth}
	mid.GET(r, "/ws", s.HandleWS, auth)
	mid.GET(r, "/presence", s.HandlePresence, auth)
	mid.GET(r, "/presence/:id", s.HandleIdentityPresence, auth)
	mid.GET(r, "/healthz", s.HandleHealth, mid.RouteOpt{})
}

func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.ConnCount()})
}

func (s *Server) HandlePresence(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"identities": s.reg.OnlineSnapshot()})
}

// HandleIdentityPresence 单个身份：本进程的连接数，以及 redis 镜像里的会话（配置了才有）
func (s *Server) HandleIdentityPresence(c *gin.Context) {
	id := c.Param("id")
	out := gin.H{
		"identityId":    id,
		"online":        s.reg.IsOnline(id),
		"localSessions": len(s.reg.Sessions(id)),
	}
	if s.lookup != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.HandleTimeout)
		defer cancel()
		online, n, err := s.lookup.IsOnline(ctx, id)
		var sessions []string
		if err == nil {
			sessions, err = s.lookup.ActiveSessions(ctx, id)
		}
		if err != nil {
			code, msg := specialerror.ToClient(errs.ErrPersistence.WrapMsg("session mirror", "err", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": code, "message": msg})
			return
		}
		if sessions == nil {
			sessions = []string{}
		}
		out["mirror"] = gin.H{"online": online, "count": n, "sessions": sessions}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *WsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.SnowID] = c
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *WsConn) {
	s.mu.Lock()
	if _, ok := s.conns[c.SnowID]; ok {
		delete(s.conns, c.SnowID)
		s.wg.Done()
	}
	s.mu.Unlock()
}

// Shutdown 关闭全部连接并等待各自完成下线流程
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*WsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
