// Package pgstore PostgreSQL 实现（pgxpool）
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open 连接并建表
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) GetIdentity(ctx context.Context, id string) (model.Identity, error) {
	var i model.Identity
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, avatar, online, last_seen FROM identities WHERE id = $1`, id).
		Scan(&i.ID, &i.Name, &i.Avatar, &i.Online, &i.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, store.ErrNotFound
	}
	return i, err
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET online = $2, last_seen = $3 WHERE id = $1`, id, online, lastSeen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocks WHERE blocker_id = $1 AND blocked_id = $2)`,
		blockerID, blockedID).Scan(&exists)
	return exists, err
}

func (s *Store) FindByPairKey(ctx context.Context, pairKey string) (model.Conversation, error) {
	return s.scanConversation(ctx,
		`SELECT id, pair_key, member_lo, member_hi, created_at FROM conversations WHERE pair_key = $1`, pairKey)
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	return s.scanConversation(ctx,
		`SELECT id, pair_key, member_lo, member_hi, created_at FROM conversations WHERE id = $1`, id)
}

func (s *Store) scanConversation(ctx context.Context, sql string, arg string) (model.Conversation, error) {
	var (
		c      model.Conversation
		lo, hi string
	)
	err := s.pool.QueryRow(ctx, sql, arg).Scan(&c.ID, &c.PairKey, &lo, &hi, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, err
	}
	c.Members = []string{lo, hi}
	return c, nil
}

func (s *Store) CreatePrivate(ctx context.Context, c model.Conversation, members [2]model.Membership) error {
	if len(c.Members) != 2 {
		return fmt.Errorf("conversation %s: want 2 members, got %d", c.ID, len(c.Members))
	}
	lo, hi := model.SortedPair(c.Members[0], c.Members[1])

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, pair_key, member_lo, member_hi, created_at) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.PairKey, lo, hi, c.CreatedAt); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, m := range members {
			batch.Queue(`INSERT INTO conversation_members (conversation_id, identity_id, joined_at) VALUES ($1, $2, $3)`,
				m.ConversationID, m.IdentityID, m.JoinedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) IsMember(ctx context.Context, conversationID, identityID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND identity_id = $2)`,
		conversationID, identityID).Scan(&exists)
	return exists, err
}

func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, type, created_at, is_read)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.Content, m.Type, m.CreatedAt, m.Read)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) CountUnread(ctx context.Context, conversationID, recipientID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read`,
		conversationID, recipientID).Scan(&n)
	return n, err
}

func (s *Store) MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read`,
		conversationID, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PutIdentity(ctx context.Context, i model.Identity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (id, name, avatar, online, last_seen) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avatar = EXCLUDED.avatar,
		   online = EXCLUDED.online, last_seen = EXCLUDED.last_seen`,
		i.ID, i.Name, i.Avatar, i.Online, i.LastSeen)
	return err
}

func (s *Store) PutBlock(ctx context.Context, b model.BlockRelation) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blocks (blocker_id, blocked_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		b.BlockerID, b.BlockedID, createdAt)
	return err
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
