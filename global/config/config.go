package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"PPDirect/tools"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSqlite   = "sqlite"

	ScopeAll = "all"

	EnvConfigPath = "PPDIRECT_CONFIG"
)

var Global = Default()

// Default 内置默认值，本地单机即可跑起来（内存存储，不连外部组件）
func Default() AppConfig {
	return AppConfig{
		NodeId:   "direct_01",
		SnowNode: 100,
		Port:     8080,
		GrpcPort: 50051,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Auth: AuthConfig{
			Secret: "mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=",
			Alg:    "HS256",
			TTL:    24 * time.Hour,
			Leeway: 5 * time.Second,
		},
		Chat: ChatConfig{
			MaxContentLen: 4000,
			DefaultType:   "text",
			SendQueue:     256,
			ReadLimit:     64 << 10,
			WriteWait:     10 * time.Second,
			PongWait:      60 * time.Second,
			PingPeriod:    54 * time.Second,
			HandleTimeout: 10 * time.Second,
		},
		Presence: PresenceConfig{
			BroadcastScope: ScopeAll,
			SessionTTL:     90 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    BackendMemory,
			MongoURI:   "mongodb://localhost:27017",
			MongoDB:    "ppdirect",
			SqlitePath: "ppdirect.db",
		},
		Nats: NatsConfig{
			Name:    "ppdirect",
			Mode:    "core",
			Subject: "ppdirect.events",
		},
		Kafka: KafkaConfig{
			Topic:       "ppdirect.events",
			Compression: "snappy",
			Retries:     3,
		},
		Redis: RedisConfig{
			IndexTTL: time.Hour,
		},
		Events: EventsConfig{
			Queue:   1024,
			Timeout: 5 * time.Second,
		},
	}
}

// Load 默认值 -> YAML 文件（可选）-> PPDIRECT_* 环境变量
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Init 读取 PPDIRECT_CONFIG 并写入 Global
func Init() error {
	cfg, err := Load(os.Getenv(EnvConfigPath))
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

func applyEnv(c *AppConfig) {
	c.NodeId = tools.GetEnv("PPDIRECT_NODE_ID", c.NodeId)
	c.SnowNode = int64(tools.GetEnvInt("PPDIRECT_SNOW_NODE", int(c.SnowNode)))
	c.Port = tools.GetEnvInt("PPDIRECT_PORT", c.Port)
	c.GrpcPort = tools.GetEnvInt("PPDIRECT_GRPC_PORT", c.GrpcPort)

	c.Log.Level = tools.GetEnv("PPDIRECT_LOG_LEVEL", c.Log.Level)
	c.Log.Format = tools.GetEnv("PPDIRECT_LOG_FORMAT", c.Log.Format)

	c.Auth.Secret = tools.GetEnv("PPDIRECT_JWT_SECRET", c.Auth.Secret)
	c.Auth.Alg = tools.GetEnv("PPDIRECT_JWT_ALG", c.Auth.Alg)
	c.Auth.TTL = tools.GetEnvDuration("PPDIRECT_JWT_TTL", c.Auth.TTL)

	c.Chat.MaxContentLen = tools.GetEnvInt("PPDIRECT_MAX_CONTENT_LEN", c.Chat.MaxContentLen)
	c.Chat.SendQueue = tools.GetEnvInt("PPDIRECT_SEND_QUEUE", c.Chat.SendQueue)
	c.Chat.AllowedOrigins = tools.GetEnvList("PPDIRECT_ALLOWED_ORIGINS", c.Chat.AllowedOrigins)

	c.Presence.BroadcastScope = tools.GetEnv("PPDIRECT_PRESENCE_SCOPE", c.Presence.BroadcastScope)

	c.Storage.Backend = strings.ToLower(tools.GetEnv("PPDIRECT_STORAGE", c.Storage.Backend))
	c.Storage.MongoURI = tools.GetEnv("PPDIRECT_MONGO_URI", c.Storage.MongoURI)
	c.Storage.MongoDB = tools.GetEnv("PPDIRECT_MONGO_DB", c.Storage.MongoDB)
	c.Storage.MongoUser = tools.GetEnv("PPDIRECT_MONGO_USER", c.Storage.MongoUser)
	c.Storage.MongoPass = tools.GetEnv("PPDIRECT_MONGO_PASS", c.Storage.MongoPass)
	c.Storage.PostgresDSN = tools.GetEnv("PPDIRECT_PG_DSN", c.Storage.PostgresDSN)
	c.Storage.SqlitePath = tools.GetEnv("PPDIRECT_SQLITE_PATH", c.Storage.SqlitePath)

	c.Redis.Addr = tools.GetEnv("PPDIRECT_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = tools.GetEnv("PPDIRECT_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = tools.GetEnvInt("PPDIRECT_REDIS_DB", c.Redis.DB)
	c.Redis.Channel = tools.GetEnv("PPDIRECT_REDIS_CHANNEL", c.Redis.Channel)
	c.Redis.ClusterTag = tools.GetEnvBool("PPDIRECT_REDIS_CLUSTER_TAG", c.Redis.ClusterTag)
	c.Redis.UseEXAT = tools.GetEnvBool("PPDIRECT_REDIS_EXAT", c.Redis.UseEXAT)

	c.Nats.Servers = tools.GetEnvList("PPDIRECT_NATS_SERVERS", c.Nats.Servers)
	c.Nats.Mode = tools.GetEnv("PPDIRECT_NATS_MODE", c.Nats.Mode)
	c.Nats.Subject = tools.GetEnv("PPDIRECT_NATS_SUBJECT", c.Nats.Subject)
	c.Nats.Headers = tools.GetEnv("PPDIRECT_NATS_HEADERS", c.Nats.Headers)
	c.Nats.User = tools.GetEnv("PPDIRECT_NATS_USER", c.Nats.User)
	c.Nats.Password = tools.GetEnv("PPDIRECT_NATS_PASSWORD", c.Nats.Password)

	c.Kafka.Brokers = tools.GetEnvList("PPDIRECT_KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = tools.GetEnv("PPDIRECT_KAFKA_TOPIC", c.Kafka.Topic)

	c.Events.Queue = tools.GetEnvInt("PPDIRECT_EVENTS_QUEUE", c.Events.Queue)
	c.Events.Timeout = tools.GetEnvDuration("PPDIRECT_EVENTS_TIMEOUT", c.Events.Timeout)
}

func (c AppConfig) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendMongo, BackendPostgres, BackendSqlite:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Presence.BroadcastScope != ScopeAll {
		return fmt.Errorf("config: presence.broadcast_scope %q not supported", c.Presence.BroadcastScope)
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("config: auth.secret is empty")
	}
	if c.Chat.MaxContentLen <= 0 || c.Chat.SendQueue <= 0 {
		return fmt.Errorf("config: chat limits must be positive")
	}
	if c.Events.Queue <= 0 {
		return fmt.Errorf("config: events.queue must be positive")
	}
	if c.Chat.PingPeriod >= c.Chat.PongWait {
		return fmt.Errorf("config: chat.ping_period must be shorter than chat.pong_wait")
	}
	if c.Storage.Backend == BackendPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: storage.postgres_dsn required for postgres backend")
	}
	return nil
}
