package config

import "time"

// TestConfig 单测 / 本地联调用的配置：内存存储、短心跳、小队列
func TestConfig() AppConfig {
	c := Default()
	c.NodeId = "direct_test"
	c.SnowNode = 1
	c.Port = 0
	c.GrpcPort = 0
	c.Log.Level = "debug"
	c.Auth.Secret = "test-secret"
	c.Auth.TTL = time.Hour
	c.Chat.SendQueue = 64
	c.Chat.PongWait = 5 * time.Second
	c.Chat.PingPeriod = 4 * time.Second
	c.Chat.HandleTimeout = 5 * time.Second
	return c
}
