package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"PPDirect/logger"
	midsec "PPDirect/middleware/security"
	"PPDirect/module/chat/event"
	"PPDirect/tools/errs"
	"PPDirect/tools/ids"
	"PPDirect/tools/specialerror"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS 鉴权已在中间件完成；这里升级、登记在线、跑读循环，退出时下线
func (s *Server) HandleWS(c *gin.Context) {
	ident, ok := midsec.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.CodeAuthentication, "message": errs.ErrAuthentication.Msg})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	conn := newWsConn(ids.GenerateString(), ident, ws, s.opts.SendQueue)
	if !s.track(conn) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(s.opts.WriteWait))
		_ = ws.Close()
		return
	}
	defer s.untrack(conn)

	go conn.writePump(s.opts)

	s.reg.Admit(context.Background(), conn)
	logger.Info("[WS] connected", zap.String("conn", conn.SnowID), zap.String("identity", ident.ID))

	s.readLoop(conn)

	// ---- 退出：先下线，再等写协程收尾 ----
	s.reg.Remove(context.Background(), conn)
	conn.Close()
	<-conn.writerDone
	logger.Info("[WS] closed", zap.String("conn", conn.SnowID), zap.String("identity", ident.ID), zap.Int64("dropped", conn.Dropped()))
}

// readLoop 只读不写；同一连接的事件按到达顺序依次处理
func (s *Server) readLoop(conn *WsConn) {
	ws := conn.Conn
	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.reg.Touch(context.Background(), conn)
		return nil
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed snowID=%s err=%v", conn.SnowID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout snowID=%s err=%v", conn.SnowID, rerr)
			} else {
				logger.Infof("[WS] read err snowID=%s err=%v", conn.SnowID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		frame, perr := ParseFrameJSON(data)
		if perr != nil {
			logger.Infof("[WS] ParseFrameJSON err snowID=%s err=%v sample=%q len=%d",
				conn.SnowID, perr, sample(data), len(data))
			conn.Deliver(event.NewError(errs.CodeInvalidArgument, "malformed frame"))
			continue
		}
		s.dispatch(conn, frame)
	}
}

// dispatch 处理上下文与连接生命周期脱钩：断线不会取消已接收的发送
func (s *Server) dispatch(conn *WsConn, f *Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandleTimeout)
	defer cancel()

	err := s.disp.Dispatch(ctx, &ChatContext{S: s}, f, conn)
	if err == nil {
		return
	}
	code, msg := specialerror.ToClient(err)
	if code == errs.CodePersistence {
		logger.Error("handle event failed",
			zap.String("event", f.Event),
			zap.String("conn", conn.SnowID),
			zap.String("identity", conn.Identity().ID),
			zap.Error(err))
	} else {
		logger.Debug("event rejected",
			zap.String("event", f.Event),
			zap.String("conn", conn.SnowID),
			zap.Int("code", code),
			zap.String("detail", msg))
	}
	conn.Deliver(event.NewError(code, msg))
}
