package config

import "time"

type AppConfig struct {
	NodeId   string `yaml:"node_id"`   // 节点的Id
	SnowNode int64  `yaml:"snow_node"` // 雪花算法节点号 0~1023
	Port     int    `yaml:"port"`      // http 启动端口
	GrpcPort int    `yaml:"grpc_port"` // grpc 健康检查端口

	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Presence PresenceConfig `yaml:"presence"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Nats     NatsConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Events   EventsConfig   `yaml:"events"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console / json
}

type AuthConfig struct {
	Secret string        `yaml:"secret"`
	Alg    string        `yaml:"alg"`
	TTL    time.Duration `yaml:"ttl"`
	Leeway time.Duration `yaml:"leeway"`
}

type ChatConfig struct {
	MaxContentLen int           `yaml:"max_content_len"` // 按 rune 计
	DefaultType   string        `yaml:"default_type"`
	SendQueue     int           `yaml:"send_queue"` // 每个连接的发送队列长度
	ReadLimit     int64         `yaml:"read_limit"` // 单帧最大字节
	WriteWait     time.Duration `yaml:"write_wait"`
	PongWait      time.Duration `yaml:"pong_wait"`
	PingPeriod    time.Duration `yaml:"ping_period"`
	HandleTimeout time.Duration `yaml:"handle_timeout"` // 单个入站事件的处理超时

	AllowedOrigins []string `yaml:"allowed_origins"` // 为空不校验 Origin
}

type PresenceConfig struct {
	BroadcastScope string        `yaml:"broadcast_scope"` // 目前只支持 all
	SessionTTL     time.Duration `yaml:"session_ttl"`     // redis 会话镜像的过期时间
}

type StorageConfig struct {
	Backend     string `yaml:"backend"` // memory | mongo | postgres | sqlite
	MongoURI    string `yaml:"mongo_uri"`
	MongoDB     string `yaml:"mongo_db"`
	MongoUser   string `yaml:"mongo_user"`
	MongoPass   string `yaml:"mongo_pass"`
	PostgresDSN string `yaml:"postgres_dsn"`
	SqlitePath  string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"` // 为空则不启用会话镜像
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Channel    string        `yaml:"channel"`     // 会话上下线通知频道，空则不发布
	ClusterTag bool          `yaml:"cluster_tag"` // key 带 hash-tag，Redis Cluster 下同一身份落在同一 slot
	UseEXAT    bool          `yaml:"use_exat"`
	IndexTTL   time.Duration `yaml:"index_ttl"` // 身份索引的兜底过期
}

type NatsConfig struct {
	Servers  []string `yaml:"servers"` // 为空则不启用
	Name     string   `yaml:"name"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	Mode     string   `yaml:"mode"` // core | js
	Subject  string   `yaml:"subject"`
	Headers  string   `yaml:"headers"` // 附加消息头 k1=v1,k2=v2
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"` // 为空则不启用
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression"`
	Retries     int      `yaml:"retries"`
}

// EventsConfig 领域事件出口前的异步队列
type EventsConfig struct {
	Queue   int           `yaml:"queue"`   // 队列满时丢弃并告警
	Timeout time.Duration `yaml:"timeout"` // 单条投递超时
}
