package chat

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"PPDirect/logger"
	"PPDirect/module/chat/event"
	"PPDirect/module/chat/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WsConn 一条已鉴权的 websocket 连接。
// 读循环只读、写协程只写；所有下行帧经 SendChan 排队，满了直接丢弃。
type WsConn struct {
	SnowID    string
	Conn      *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time
	SendChan  chan []byte // 每连接独立发送队列，由 writePump 独占消费

	identity model.Identity

	mu         sync.Mutex
	activeChat string

	dropped    atomic.Int64
	closeOnce  sync.Once
	done       chan struct{} // 通知写协程退出
	writerDone chan struct{} // 写协程已退出且底层连接已关闭
}

func newWsConn(snowID string, ident model.Identity, ws *websocket.Conn, queue int) *WsConn {
	c := &WsConn{
		SnowID:     snowID,
		Conn:       ws,
		CreatedAt:  time.Now(),
		SendChan:   make(chan []byte, queue),
		identity:   ident,
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	if ws != nil {
		c.Remote = ws.RemoteAddr()
	}
	return c
}

func (c *WsConn) ID() string               { return c.SnowID }
func (c *WsConn) Identity() model.Identity { return c.identity }

func (c *WsConn) ActiveChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeChat
}

func (c *WsConn) SetActiveChat(chatID string) {
	c.mu.Lock()
	c.activeChat = chatID
	c.mu.Unlock()
}

// Deliver 非阻塞入队；连接已关闭或队列已满返回 false
func (c *WsConn) Deliver(ev event.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	payload, err := ev.Marshal()
	if err != nil {
		logger.Error("marshal event failed", zap.String("event", ev.Name), zap.Error(err))
		return false
	}
	select {
	case c.SendChan <- payload:
		return true
	default:
		n := c.dropped.Add(1)
		logger.Warn("send queue full, drop frame",
			zap.String("conn", c.SnowID),
			zap.String("identity", c.identity.ID),
			zap.String("event", ev.Name),
			zap.Int64("dropped", n))
		return false
	}
}

// Dropped 慢消费者被丢弃的帧数
func (c *WsConn) Dropped() int64 { return c.dropped.Load() }

// Close 幂等；写协程随后发送 close 帧并关闭底层连接
func (c *WsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump 业务帧优先，其次定时 ping；任何写错误都结束连接
func (c *WsConn) writePump(opts Options) {
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case payload := <-c.SendChan:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[WS] write payload err snowID=%s user=%s err=%v", c.SnowID, c.identity.ID, err)
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(opts.WriteWait)); err != nil {
				logger.Infof("[WS] ping err snowID=%s user=%s err=%v", c.SnowID, c.identity.ID, err)
				return
			}

		case <-c.done:
			c.drain(opts)
			_ = c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(opts.WriteWait))
			return
		}
	}
}

// drain 关闭前尽量把已排队的帧写出去
func (c *WsConn) drain(opts Options) {
	for {
		select {
		case payload := <-c.SendChan:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
