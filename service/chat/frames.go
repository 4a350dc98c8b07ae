package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// 上行事件名
const (
	EvSendMessage    = "send_message"
	EvTyping         = "typing"
	EvJoinChat       = "join_chat"
	EvLeaveChat      = "leave_chat"
	EvMarkRead       = "mark_read"
	EvGetUnreadCount = "get_unread_count"
)

// Frame 上行帧 {"event": "...", "data": {...}}；data 交给各 handler 宽松解码
type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	f.Event = strings.TrimSpace(f.Event)
	if f.Event == "" {
		return nil, fmt.Errorf("frame has no event name")
	}
	return f, nil
}

// sample 日志里只打印前 256 字节
func sample(data []byte) []byte {
	if len(data) > 256 {
		return data[:256]
	}
	return data
}
