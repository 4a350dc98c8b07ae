package global

import (
	"context"
	"time"

	"PPDirect/data/database/mgo/mongoutil"
	"PPDirect/global/config"
	"PPDirect/logger"
	mid "PPDirect/middleware"
	"PPDirect/module/chat/event"
	"PPDirect/module/chat/service"
	"PPDirect/module/chat/store"
	"PPDirect/module/chat/store/memory"
	"PPDirect/module/chat/store/mongostore"
	"PPDirect/module/chat/store/pgstore"
	"PPDirect/module/chat/store/sqlstore"
	ka "PPDirect/service/kafka"
	mgoSrv "PPDirect/service/mgo"
	"PPDirect/service/natsx"
	"PPDirect/service/storage"
	redis "PPDirect/service/storage/redis"
	"PPDirect/tools"
	"PPDirect/tools/errs"
	ids "PPDirect/tools/ids"
	"PPDirect/tools/security"

	"go.uber.org/zap"
)

// Runtime 启动时装配好的外部依赖
type Runtime struct {
	Store  store.Store
	Sink   event.Sink
	Mirror *storage.OnlineStore // 未配置 redis 时为 nil

	closers []func(ctx context.Context) error
}

// Close 逆序释放
func (r *Runtime) Close(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			logger.Warn("[boot] close failed", zap.Error(err))
		}
	}
	r.closers = nil
}

func (r *Runtime) onClose(f func(ctx context.Context) error) { r.closers = append(r.closers, f) }

// ConfigAll 存储失败直接返回；redis 镜像和事件出口是可选组件，失败只告警
func ConfigAll(ctx context.Context, cfg config.AppConfig) (*Runtime, error) {
	ConfigIds(cfg)
	ConfigMiddleware(cfg)

	rt := &Runtime{}
	st, err := ConfigStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.Store = st
	rt.onClose(st.Close)

	if m, err := ConfigRedis(ctx, cfg); err != nil {
		logger.Warn("[boot] redis mirror disabled", zap.Error(err))
	} else if m != nil {
		rt.Mirror = m
		rt.onClose(func(context.Context) error { return redis.CloseRedis() })
	}

	var sinks []event.Sink
	if s, err := ConfigNats(cfg.Nats); err != nil {
		logger.Warn("[boot] nats sink disabled", zap.Error(err))
	} else if s != nil {
		sinks = append(sinks, s)
		rt.onClose(func(context.Context) error { return s.Close() })
	}
	if s, err := ConfigKafka(cfg.Kafka); err != nil {
		logger.Warn("[boot] kafka sink disabled", zap.Error(err))
	} else if s != nil {
		sinks = append(sinks, s)
		rt.onClose(func(context.Context) error { return s.Close() })
	}
	rt.Sink = ConfigSink(sinks, cfg.Events)
	if as, ok := rt.Sink.(*event.AsyncSink); ok {
		// 逆序关闭：先排空队列，再关 nats / kafka
		rt.onClose(as.Close)
	}
	return rt, nil
}

// ConfigSink 没有出口时为 NopSink；否则在出口前加一层有界异步队列，读循环不会被下游拖住
func ConfigSink(sinks []event.Sink, c config.EventsConfig) event.Sink {
	var next event.Sink
	switch len(sinks) {
	case 0:
		return event.NopSink{}
	case 1:
		next = sinks[0]
	default:
		next = event.MultiSink(sinks)
	}
	return event.NewAsyncSink(next, c.Queue, c.Timeout)
}

func ConfigIds(cfg config.AppConfig) {
	ids.SetNodeID(cfg.SnowNode)
}

// ConfigMiddleware 全局中间件：Origin 校验
func ConfigMiddleware(cfg config.AppConfig) {
	mid.Manager().Clear()
	mid.Manager().Add(mid.Origin(cfg.Chat.AllowedOrigins))
}

// ServiceConfig 核心服务配置
func ServiceConfig(cfg config.AppConfig) service.Config {
	return service.Config{
		MaxContentLen: cfg.Chat.MaxContentLen,
		DefaultType:   cfg.Chat.DefaultType,
		Token: security.Options{
			Secret: []byte(cfg.Auth.Secret),
			Alg:    cfg.Auth.Alg,
			TTL:    cfg.Auth.TTL,
			Leeway: cfg.Auth.Leeway,
		},
	}
}

// ConfigStore 按 storage.backend 选择存储
func ConfigStore(ctx context.Context, c config.StorageConfig) (store.Store, error) {
	switch c.Backend {
	case config.BackendMongo:
		return ConfigMgo(ctx, c)
	case config.BackendPostgres:
		st, err := pgstore.Open(ctx, c.PostgresDSN)
		if err != nil {
			return nil, errs.WrapMsg(err, "open postgres store")
		}
		return st, nil
	case config.BackendSqlite:
		st, err := sqlstore.Open(c.SqlitePath)
		if err != nil {
			return nil, errs.WrapMsg(err, "open sqlite store", "path", c.SqlitePath)
		}
		return st, nil
	default:
		logger.Info("[boot] using in-memory store")
		return memory.New(), nil
	}
}

// ConfigMgo 后台连接（带退避），等首次就绪后建 store；Close 时停止后台连接
func ConfigMgo(ctx context.Context, c config.StorageConfig) (store.Store, error) {
	mctx, cancel := context.WithCancel(context.Background())
	m := mgoSrv.NewManager(&mongoutil.Config{
		Uri:         c.MongoURI,
		Database:    c.MongoDB,
		Username:    c.MongoUser,
		Password:    c.MongoPass,
		MaxPoolSize: 20,
	}, mgoSrv.Options{})
	m.StartAsync(mctx)

	wctx, wcancel := context.WithTimeout(ctx, 30*time.Second)
	defer wcancel()
	if err := m.WaitReady(wctx); err != nil {
		cancel()
		return nil, errs.WrapMsg(err, "mongo not ready", "last", m.Err())
	}
	db, _ := m.TryGetDB()
	st, err := mongostore.New(ctx, db, func(cctx context.Context) error {
		cancel()
		select {
		case <-m.Done():
			return nil
		case <-cctx.Done():
			return cctx.Err()
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return st, nil
}

// ConfigRedis addr 为空返回 (nil, nil)
func ConfigRedis(ctx context.Context, cfg config.AppConfig) (*storage.OnlineStore, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	err := redis.InitRedis(redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	m := storage.NewOnlineStore(redis.GetRedis(), storage.OnlineConfig{
		NodeID:        cfg.NodeId,
		TTL:           cfg.Presence.SessionTTL,
		ChannelName:   cfg.Redis.Channel,
		UseClusterTag: cfg.Redis.ClusterTag,
		UseEXAT:       cfg.Redis.UseEXAT,
		UserIndexTTL:  cfg.Redis.IndexTTL,
	})
	logger.Info("[boot] redis session mirror on",
		zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel), zap.Bool("cluster_tag", cfg.Redis.ClusterTag))
	return m, nil
}

// ConfigNats servers 为空返回 (nil, nil)
func ConfigNats(c config.NatsConfig) (*natsx.EventSink, error) {
	if len(c.Servers) == 0 {
		return nil, nil
	}
	mgr, err := natsx.NewNatsManager(natsx.NatsxConfig{
		Servers:  c.Servers,
		Name:     c.Name,
		User:     c.User,
		Password: c.Password,
	})
	if err != nil {
		return nil, err
	}
	s, err := natsx.NewEventSink(mgr, c.Subject, natsx.ParseMode(c.Mode), tools.ParseHdr(c.Headers))
	if err != nil {
		_ = mgr.Close()
		return nil, err
	}
	logger.Info("[boot] nats sink on", zap.Strings("servers", c.Servers), zap.String("subject", c.Subject))
	return s, nil
}

// ConfigKafka brokers 为空返回 (nil, nil)
func ConfigKafka(c config.KafkaConfig) (*ka.EventSink, error) {
	if len(c.Brokers) == 0 {
		return nil, nil
	}
	s, err := ka.NewEventSink(ka.Config{
		Brokers:     c.Brokers,
		Topic:       c.Topic,
		Compression: c.Compression,
		Retries:     c.Retries,
	}, true)
	if err != nil {
		return nil, err
	}
	logger.Info("[boot] kafka sink on", zap.Strings("brokers", c.Brokers), zap.String("topic", c.Topic))
	return s, nil
}
