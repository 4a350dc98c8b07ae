package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const pairKeyPrefix = "pk_"

// Conversation 两个不同身份之间的私聊，同一对身份最多一个（pair_key 唯一）
type Conversation struct {
	ID        string    `bson:"_id" json:"id"`
	PairKey   string    `bson:"pair_key" json:"pairKey"`
	Members   []string  `bson:"members" json:"members"` // 固定两个，按字典序
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// Membership 会话 <-> 身份，每个会话恰好两条
type Membership struct {
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	IdentityID     string    `bson:"identity_id" json:"identityId"`
	JoinedAt       time.Time `bson:"joined_at" json:"joinedAt"`
}

// PairKey 与顺序无关：sha256(min + ":" + max)
func PairKey(a, b string) string {
	lo, hi := SortedPair(a, b)
	sum := sha256.Sum256([]byte(lo + ":" + hi))
	return pairKeyPrefix + hex.EncodeToString(sum[:])
}

func SortedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// NewConversation 生成会话及两条成员关系
func NewConversation(id, a, b string, now time.Time) (Conversation, [2]Membership) {
	lo, hi := SortedPair(a, b)
	c := Conversation{
		ID:        id,
		PairKey:   PairKey(a, b),
		Members:   []string{lo, hi},
		CreatedAt: now,
	}
	return c, [2]Membership{
		{ConversationID: id, IdentityID: lo, JoinedAt: now},
		{ConversationID: id, IdentityID: hi, JoinedAt: now},
	}
}

func (c Conversation) HasMember(identityID string) bool {
	for _, m := range c.Members {
		if m == identityID {
			return true
		}
	}
	return false
}

// Peer 返回另一方；identityID 不是成员时 ok=false
func (c Conversation) Peer(identityID string) (string, bool) {
	if len(c.Members) != 2 || !c.HasMember(identityID) {
		return "", false
	}
	if c.Members[0] == identityID {
		return c.Members[1], true
	}
	return c.Members[0], true
}
