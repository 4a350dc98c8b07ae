// Package sqlstore gorm 实现，默认驱动 sqlite，单机部署时免外部数据库
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open 打开（或创建）sqlite 文件并迁移表结构
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")

	// sqlite 单写者；串行化连接避免 SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return New(db)
}

// New 基于已有连接（sqlite 以外的 gorm 方言同样可用）
func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(
		&IdentityModel{},
		&BlockModel{},
		&ConversationModel{},
		&MemberModel{},
		&MessageModel{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) GetIdentity(ctx context.Context, id string) (model.Identity, error) {
	var m IdentityModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Identity{}, store.ErrNotFound
		}
		return model.Identity{}, err
	}
	return identityToDomain(&m), nil
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&IdentityModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"online":    online,
			"last_seen": lastSeen,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&BlockModel{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) FindByPairKey(ctx context.Context, pairKey string) (model.Conversation, error) {
	return s.firstConversation(ctx, "pair_key = ?", pairKey)
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	return s.firstConversation(ctx, "id = ?", id)
}

func (s *Store) firstConversation(ctx context.Context, query string, arg string) (model.Conversation, error) {
	var m ConversationModel
	if err := s.db.WithContext(ctx).First(&m, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Conversation{}, store.ErrNotFound
		}
		return model.Conversation{}, err
	}
	return conversationToDomain(&m), nil
}

func (s *Store) CreatePrivate(ctx context.Context, c model.Conversation, members [2]model.Membership) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversationToModel(c)).Error; err != nil {
			return err
		}
		rows := []MemberModel{
			{ConversationID: members[0].ConversationID, IdentityID: members[0].IdentityID, JoinedAt: members[0].JoinedAt},
			{ConversationID: members[1].ConversationID, IdentityID: members[1].IdentityID, JoinedAt: members[1].JoinedAt},
		}
		return tx.Create(&rows).Error
	})
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) IsMember(ctx context.Context, conversationID, identityID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&MemberModel{}).
		Where("conversation_id = ? AND identity_id = ?", conversationID, identityID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	err := s.db.WithContext(ctx).Create(messageToModel(m)).Error
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) CountUnread(ctx context.Context, conversationID, recipientID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, recipientID, false).
		Count(&n).Error
	return n, err
}

func (s *Store) MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, recipientID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

func (s *Store) PutIdentity(ctx context.Context, i model.Identity) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(identityToModel(i)).Error
}

func (s *Store) PutBlock(ctx context.Context, b model.BlockRelation) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&BlockModel{BlockerID: b.BlockerID, BlockedID: b.BlockedID, CreatedAt: b.CreatedAt}).Error
}

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
