package natsx

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"PPDirect/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxMode 工作模式
type NatsxMode int

const (
	Core      NatsxMode = iota // 无持久化
	JetStream                  // 落 stream，按 Nats-Msg-Id 去重
)

// ParseMode 配置里的 core / js；js_push、js_pull 对发布端相同，未知值按 core
func ParseMode(s string) NatsxMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "js", "jetstream", "js_push", "js_pull":
		return JetStream
	default:
		return Core
	}
}

// NatsxRoute 按 Biz 注册的路由
type NatsxRoute struct {
	Biz     string
	Subject string
	Mode    NatsxMode
	Stream  string // 非空且为 JS 模式时，注册路由会确保该 stream 覆盖 Subject
}

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
}

func (c *NatsxConfig) norm() error {
	if len(c.Servers) == 0 {
		return errors.New("nats servers missing")
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax <= 0 {
		c.PublishAsyncMax = 4096
	}
	return nil
}

// NatsxClient 连接 + 路由表
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu     sync.RWMutex
	routes map[string]NatsxRoute
}

func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if err := cfg.norm(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("[nats] disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[nats] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsxClient{
		cfg:    cfg,
		nc:     nc,
		routes: make(map[string]NatsxRoute),
	}, nil
}

// Close 排空连接，未发出的消息会先 flush
func (c *NatsxClient) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *NatsxClient) ensureJS() (nats.JetStreamContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js != nil {
		return c.js, nil
	}
	js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	if err != nil {
		return nil, err
	}
	c.js = js
	return js, nil
}

// ensureStream stream 不存在则创建；已存在但不覆盖 subject 时追加
func ensureStream(js nats.JetStreamContext, name, subject string) error {
	info, err := js.StreamInfo(name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      name,
			Subjects:  []string{subject},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
		})
		if err == nil {
			logger.Info("[nats] stream created", zap.String("stream", name), zap.String("subject", subject))
		}
		return err
	}
	if err != nil {
		return err
	}
	for _, s := range info.Config.Subjects {
		if s == subject {
			return nil
		}
	}
	cfg := info.Config
	cfg.Subjects = append(cfg.Subjects, subject)
	_, err = js.UpdateStream(&cfg)
	return err
}

// RegisterRoute 注册 Biz 路由；JS 模式下初始化 JetStream
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errors.New("invalid route")
	}
	if r.Mode == JetStream {
		js, err := c.ensureJS()
		if err != nil {
			return fmt.Errorf("init jetstream: %w", err)
		}
		if r.Stream != "" {
			if err := ensureStream(js, r.Stream, r.Subject); err != nil {
				return fmt.Errorf("ensure stream %s: %w", r.Stream, err)
			}
		}
	}
	c.mu.Lock()
	c.routes[r.Biz] = r
	c.mu.Unlock()
	return nil
}

func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
