package handlers

import "PPDirect/service/chat"

// Register 挂上全部上行事件
func Register(d *chat.Dispatcher) {
	d.Register(
		NewSendHandler(),
		NewTypingHandler(),
		NewJoinChatHandler(),
		NewLeaveChatHandler(),
		NewMarkReadHandler(),
		NewUnreadCountHandler(),
	)
}
