package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config Kafka 领域事件出口配置
type Config struct {
	Brokers           []string
	Topic             string
	Compression       string // none/snappy/lz4/zstd
	Retries           int
	Partitions        int32 // EnsureTopic 时使用；单机=1
	ReplicationFactor int16 // 单机=1；生产=3
	Version           sarama.KafkaVersion
}

func (c *Config) norm() {
	if c.Topic == "" {
		c.Topic = "ppdirect.events"
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	// 给个兜底，避免零值触发 sarama 校验失败
	if c.Version == (sarama.KafkaVersion{}) {
		c.Version = sarama.V2_1_0_0
	}
}

// BuildProducerConfig 同步生产者配置；Key 决定分区，同一会话的事件保序
func BuildProducerConfig(c Config) *sarama.Config {
	c.norm()
	cfg := sarama.NewConfig()
	cfg.Version = c.Version
	cfg.ClientID = "ppdirect"

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = compression(c.Compression)

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func compression(s string) sarama.CompressionCodec {
	switch strings.ToLower(s) {
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	case "gzip":
		return sarama.CompressionGZIP
	default:
		return sarama.CompressionNone
	}
}
