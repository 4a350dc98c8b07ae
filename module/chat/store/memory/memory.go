package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"
)

// Store 进程内实现，默认后端，也是服务层单测用的存储
type Store struct {
	mu         sync.RWMutex
	identities map[string]model.Identity
	blocks     map[string]struct{}            // blocker|blocked
	convs      map[string]model.Conversation  // id -> conv
	byPair     map[string]string              // pair_key -> id
	members    map[string]map[string]struct{} // conv -> identity set
	msgs       map[string][]*model.Message    // conv -> msgs (insert order)
	msgIDs     map[string]struct{}
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		identities: make(map[string]model.Identity),
		blocks:     make(map[string]struct{}),
		convs:      make(map[string]model.Conversation),
		byPair:     make(map[string]string),
		members:    make(map[string]map[string]struct{}),
		msgs:       make(map[string][]*model.Message),
		msgIDs:     make(map[string]struct{}),
	}
}

func keyBlock(blocker, blocked string) string { return blocker + "|" + blocked }

func (s *Store) GetIdentity(ctx context.Context, id string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.identities[id]
	if !ok {
		return model.Identity{}, store.ErrNotFound
	}
	return i, nil
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.identities[id]
	if !ok {
		return store.ErrNotFound
	}
	i.Online = online
	i.LastSeen = lastSeen
	s.identities[id] = i
	return nil
}

func (s *Store) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[keyBlock(blockerID, blockedID)]
	return ok, nil
}

func (s *Store) FindByPairKey(ctx context.Context, pairKey string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pairKey]
	if !ok {
		return model.Conversation{}, store.ErrNotFound
	}
	return cloneConv(s.convs[id]), nil
}

func (s *Store) CreatePrivate(ctx context.Context, c model.Conversation, members [2]model.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// UNIQUE(pair_key) / PK(id)
	if _, ok := s.byPair[c.PairKey]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.convs[c.ID]; ok {
		return store.ErrDuplicate
	}
	s.convs[c.ID] = cloneConv(c)
	s.byPair[c.PairKey] = c.ID
	set := make(map[string]struct{}, 2)
	for _, m := range members {
		set[m.IdentityID] = struct{}{}
	}
	s.members[c.ID] = set
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, store.ErrNotFound
	}
	return cloneConv(c), nil
}

func (s *Store) IsMember(ctx context.Context, conversationID, identityID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[conversationID][identityID]
	return ok, nil
}

func (s *Store) InsertMessage(ctx context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[m.ConversationID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.msgIDs[m.ID]; ok {
		return store.ErrDuplicate
	}
	cp := m
	s.msgs[m.ConversationID] = append(s.msgs[m.ConversationID], &cp)
	s.msgIDs[m.ID] = struct{}{}
	return nil
}

func (s *Store) CountUnread(ctx context.Context, conversationID, recipientID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.msgs[conversationID] {
		if m.ReceiverID == recipientID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.msgs[conversationID] {
		if m.ReceiverID == recipientID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *Store) PutIdentity(ctx context.Context, i model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[i.ID] = i
	return nil
}

func (s *Store) PutBlock(ctx context.Context, b model.BlockRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[keyBlock(b.BlockerID, b.BlockedID)] = struct{}{}
	return nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

// ListMessages 按写入顺序返回会话消息的拷贝
func (s *Store) ListMessages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, len(s.msgs[conversationID]))
	for _, m := range s.msgs[conversationID] {
		out = append(out, *m)
	}
	return out
}

// Conversations 全部会话，按 id 排序
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, cloneConv(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgIDs)
}

func cloneConv(c model.Conversation) model.Conversation {
	c.Members = append([]string(nil), c.Members...)
	return c
}
