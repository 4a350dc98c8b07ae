package kafka

import (
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"PPDirect/logger"
)

// EnsureTopic 不存在就创建；已存在且分区数不足时扩分区（Kafka 只能增加分区）
func EnsureTopic(admin sarama.ClusterAdmin, c Config) error {
	c.norm()
	descs, err := admin.DescribeTopics([]string{c.Topic})
	if err != nil {
		return fmt.Errorf("describe topic %s: %w", c.Topic, err)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if c.ReplicationFactor >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     c.Partitions,
			ReplicationFactor: c.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(c.Topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Info("[Kafka] topic exists (race)", zap.String("topic", c.Topic))
				return nil
			}
			return fmt.Errorf("create topic %s: %w", c.Topic, err)
		}
		logger.Info("[Kafka] topic created", zap.String("topic", c.Topic),
			zap.Int32("partitions", c.Partitions), zap.Int16("rf", c.ReplicationFactor))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if c.Partitions > cur {
		if err := admin.CreatePartitions(c.Topic, c.Partitions, nil, false); err != nil {
			return fmt.Errorf("expand partitions %s from %d to %d: %w", c.Topic, cur, c.Partitions, err)
		}
		logger.Infof("[Kafka] partitions expanded: %s (%d -> %d)", c.Topic, cur, c.Partitions)
	}
	return nil
}

func strPtr(s string) *string { return &s }
