package model

import "time"

const (
	MsgTypeText  = "text"
	MsgTableName = "messages"
)

// Message Read 只会 false -> true
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"chatId"`
	SenderID       string    `bson:"sender_id" json:"senderId"`
	ReceiverID     string    `bson:"receiver_id" json:"receiverId"`
	Content        string    `bson:"content" json:"content"`
	Type           string    `bson:"type" json:"type"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
	Read           bool      `bson:"read" json:"isRead"`
}
