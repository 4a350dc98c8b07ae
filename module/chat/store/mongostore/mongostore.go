// Package mongostore MongoDB 实现
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PPDirect/data/database"
	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	db    *mongo.Database
	idn   *mongo.Collection
	blk   *mongo.Collection
	conv  *mongo.Collection
	msg   *mongo.Collection
	close func(ctx context.Context) error
}

var _ store.Store = (*Store)(nil)

// New 使用已连接的 database，创建索引；closer 可为空
func New(ctx context.Context, db *mongo.Database, closer func(ctx context.Context) error) (*Store, error) {
	if err := database.EnsureIndexes(ctx, db, identities{}, blocks{}, conversations{}, messages{}); err != nil {
		return nil, err
	}
	return &Store{
		db:    db,
		idn:   db.Collection(identityTable),
		blk:   db.Collection(blockTable),
		conv:  db.Collection(conversationTable),
		msg:   db.Collection(messageTable),
		close: closer,
	}, nil
}

func blockID(blocker, blocked string) string { return blocker + "|" + blocked }

type blockDoc struct {
	ID        string    `bson:"_id"`
	BlockerID string    `bson:"blocker_id"`
	BlockedID string    `bson:"blocked_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) GetIdentity(ctx context.Context, id string) (model.Identity, error) {
	var i model.Identity
	if err := s.idn.FindOne(ctx, bson.M{"_id": id}).Decode(&i); err != nil {
		return model.Identity{}, notFound(err)
	}
	return i, nil
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	res, err := s.idn.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"online": online, "last_seen": lastSeen}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	n, err := s.blk.CountDocuments(ctx, bson.M{"_id": blockID(blockerID, blockedID)}, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *Store) FindByPairKey(ctx context.Context, pairKey string) (model.Conversation, error) {
	var c model.Conversation
	if err := s.conv.FindOne(ctx, bson.M{"pair_key": pairKey}).Decode(&c); err != nil {
		return model.Conversation{}, notFound(err)
	}
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	var c model.Conversation
	if err := s.conv.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return model.Conversation{}, notFound(err)
	}
	return c, nil
}

// CreatePrivate 成员内嵌在会话文档里，单次 insert；pair_key 唯一索引兜底并发
func (s *Store) CreatePrivate(ctx context.Context, c model.Conversation, members [2]model.Membership) error {
	for _, m := range members {
		if m.ConversationID != c.ID || !c.HasMember(m.IdentityID) {
			return fmt.Errorf("membership %s/%s does not match conversation %s", m.ConversationID, m.IdentityID, c.ID)
		}
	}
	_, err := s.conv.InsertOne(ctx, c)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) IsMember(ctx context.Context, conversationID, identityID string) (bool, error) {
	n, err := s.conv.CountDocuments(ctx,
		bson.M{"_id": conversationID, "members": identityID},
		options.Count().SetLimit(1))
	return n > 0, err
}

func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	_, err := s.msg.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func unreadFilter(conversationID, recipientID string) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"receiver_id":     recipientID,
		"read":            false,
	}
}

func (s *Store) CountUnread(ctx context.Context, conversationID, recipientID string) (int64, error) {
	return s.msg.CountDocuments(ctx, unreadFilter(conversationID, recipientID))
}

func (s *Store) MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	res, err := s.msg.UpdateMany(ctx,
		unreadFilter(conversationID, recipientID),
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) PutIdentity(ctx context.Context, i model.Identity) error {
	_, err := s.idn.ReplaceOne(ctx, bson.M{"_id": i.ID}, i, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) PutBlock(ctx context.Context, b model.BlockRelation) error {
	doc := blockDoc{
		ID:        blockID(b.BlockerID, b.BlockedID),
		BlockerID: b.BlockerID,
		BlockedID: b.BlockedID,
		CreatedAt: b.CreatedAt,
	}
	_, err := s.blk.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true))
	return err
}

func (s *Store) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}
