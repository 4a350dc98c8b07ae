package model

import "time"

// BlockRelation 有向拉黑：Blocker 拉黑了 Blocked。
// 拉黑关系由外部服务维护，核心只读。
type BlockRelation struct {
	BlockerID string    `bson:"blocker_id" json:"blockerId"`
	BlockedID string    `bson:"blocked_id" json:"blockedId"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}
