package event

import (
	"encoding/json"
	"time"

	"PPDirect/module/chat/model"
)

// 下行事件名
const (
	MessageReceived = "message_received"
	TypingStatus    = "typing_status"
	OnlineSnapshot  = "online_snapshot"
	PresenceChanged = "presence_changed"
	UnreadCount     = "unread_count"
	ReadReceipt     = "read_receipt"
	Error           = "error"
)

// Event 下行帧 {"event": "...", "data": {...}}
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type SenderInfo struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type MessagePayload struct {
	ID            string     `json:"id"`
	ChatID        string     `json:"chatId"`
	SenderID      string     `json:"senderId"`
	ReceiverID    string     `json:"receiverId"`
	Content       string     `json:"content"`
	Type          string     `json:"type"`
	CreatedAt     time.Time  `json:"createdAt"`
	IsRead        bool       `json:"isRead"`
	Sender        SenderInfo `json:"sender"`
	CorrelationID string     `json:"correlationId,omitempty"`
}

type TypingPayload struct {
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

type SnapshotPayload struct {
	Identities []string `json:"identities"`
}

type PresencePayload struct {
	IdentityID string    `json:"identityId"`
	Online     bool      `json:"online"`
	LastSeen   time.Time `json:"lastSeen"`
}

type UnreadPayload struct {
	ChatID string `json:"chatId"`
	Count  int64  `json:"count"`
}

type ReceiptPayload struct {
	ChatID   string `json:"chatId"`
	ReaderID string `json:"readerId"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewMessageReceived(m model.Message, sender model.Identity, correlationID string) Event {
	return Event{Name: MessageReceived, Data: MessagePayload{
		ID:            m.ID,
		ChatID:        m.ConversationID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Content:       m.Content,
		Type:          m.Type,
		CreatedAt:     m.CreatedAt,
		IsRead:        m.Read,
		Sender:        SenderInfo{Name: sender.Name, Avatar: sender.Avatar},
		CorrelationID: correlationID,
	}}
}

func NewTypingStatus(senderID string, isTyping bool) Event {
	return Event{Name: TypingStatus, Data: TypingPayload{SenderID: senderID, IsTyping: isTyping}}
}

func NewOnlineSnapshot(ids []string) Event {
	if ids == nil {
		ids = []string{}
	}
	return Event{Name: OnlineSnapshot, Data: SnapshotPayload{Identities: ids}}
}

func NewPresenceChanged(identityID string, online bool, lastSeen time.Time) Event {
	return Event{Name: PresenceChanged, Data: PresencePayload{IdentityID: identityID, Online: online, LastSeen: lastSeen}}
}

func NewUnreadCount(chatID string, count int64) Event {
	return Event{Name: UnreadCount, Data: UnreadPayload{ChatID: chatID, Count: count}}
}

func NewReadReceipt(chatID, readerID string) Event {
	return Event{Name: ReadReceipt, Data: ReceiptPayload{ChatID: chatID, ReaderID: readerID}}
}

func NewError(code int, msg string) Event {
	return Event{Name: Error, Data: ErrorPayload{Code: code, Message: msg}}
}
