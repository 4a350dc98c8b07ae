package sqlstore

import (
	"time"

	"PPDirect/module/chat/model"
)

type IdentityModel struct {
	ID       string    `gorm:"primaryKey;column:id"`
	Name     string    `gorm:"column:name"`
	Avatar   string    `gorm:"column:avatar"`
	Online   bool      `gorm:"column:online"`
	LastSeen time.Time `gorm:"column:last_seen"`
}

func (IdentityModel) TableName() string { return "identities" }

type BlockModel struct {
	BlockerID string    `gorm:"primaryKey;column:blocker_id"`
	BlockedID string    `gorm:"primaryKey;column:blocked_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (BlockModel) TableName() string { return "blocks" }

type ConversationModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	PairKey   string    `gorm:"column:pair_key;uniqueIndex"`
	MemberLo  string    `gorm:"column:member_lo"`
	MemberHi  string    `gorm:"column:member_hi"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ConversationModel) TableName() string { return "conversations" }

type MemberModel struct {
	ConversationID string    `gorm:"primaryKey;column:conversation_id"`
	IdentityID     string    `gorm:"primaryKey;column:identity_id;index"`
	JoinedAt       time.Time `gorm:"column:joined_at"`
}

func (MemberModel) TableName() string { return "conversation_members" }

type MessageModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	ConversationID string    `gorm:"column:conversation_id;index:idx_unread,priority:1"`
	SenderID       string    `gorm:"column:sender_id"`
	ReceiverID     string    `gorm:"column:receiver_id;index:idx_unread,priority:2"`
	Content        string    `gorm:"column:content"`
	Type           string    `gorm:"column:type"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	Read           bool      `gorm:"column:is_read;index:idx_unread,priority:3"`
}

func (MessageModel) TableName() string { return "messages" }

// Conversion functions
func identityToDomain(m *IdentityModel) model.Identity {
	return model.Identity{ID: m.ID, Name: m.Name, Avatar: m.Avatar, Online: m.Online, LastSeen: m.LastSeen}
}

func identityToModel(i model.Identity) *IdentityModel {
	return &IdentityModel{ID: i.ID, Name: i.Name, Avatar: i.Avatar, Online: i.Online, LastSeen: i.LastSeen}
}

func conversationToDomain(m *ConversationModel) model.Conversation {
	return model.Conversation{
		ID:        m.ID,
		PairKey:   m.PairKey,
		Members:   []string{m.MemberLo, m.MemberHi},
		CreatedAt: m.CreatedAt,
	}
}

func conversationToModel(c model.Conversation) *ConversationModel {
	out := &ConversationModel{ID: c.ID, PairKey: c.PairKey, CreatedAt: c.CreatedAt}
	if len(c.Members) == 2 {
		out.MemberLo, out.MemberHi = model.SortedPair(c.Members[0], c.Members[1])
	}
	return out
}

func messageToModel(m model.Message) *MessageModel {
	return &MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Type:           m.Type,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
	}
}
