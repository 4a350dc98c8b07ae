package mongostore

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	identityTable     = "identities"
	blockTable        = "blocks"
	conversationTable = "conversations"
	messageTable      = "messages"
)

type identities struct{}

func (identities) GetTableName() string        { return identityTable }
func (identities) Indexes() []mongo.IndexModel { return nil }

// blocks 文档 _id = blocker|blocked
type blocks struct{}

func (blocks) GetTableName() string { return blockTable }
func (blocks) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "blocked_id", Value: 1}}},
	}
}

// conversations 成员直接内嵌，创建只有一次 insert，天然原子
type conversations struct{}

func (conversations) GetTableName() string { return conversationTable }
func (conversations) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_pair_key"),
		},
		{Keys: bson.D{{Key: "members", Value: 1}}},
	}
}

type messages struct{}

func (messages) GetTableName() string { return messageTable }
func (messages) Indexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "receiver_id", Value: 1},
				{Key: "read", Value: 1},
			},
			Options: options.Index().SetName("idx_unread"),
		},
	}
}
