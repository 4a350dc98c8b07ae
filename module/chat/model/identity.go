package model

import "time"

// Identity 账号信息由外部用户服务维护，这里只改 Online / LastSeen
type Identity struct {
	ID       string    `bson:"_id" json:"id"`
	Name     string    `bson:"name" json:"name"`
	Avatar   string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Online   bool      `bson:"online" json:"online"`
	LastSeen time.Time `bson:"last_seen" json:"lastSeen"`
}
