package server

import (
	"context"
	"encoding/json"
	"time"

	"acctmonitor/internal/broadcast"
	"acctmonitor/internal/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxMessageSize = 1024 * 1024

// client is one websocket connection. Replies to its own requests and
// broadcast frames are queued separately, so a burst of cycle frames never
// delays a reply and vice versa.
type client struct {
	srv     *Server
	conn    *websocket.Conn
	sub     *broadcast.Subscription
	replies chan []byte
	logger  *zap.Logger
}

// readPump handles requests until the connection fails or the subscriber is
// dropped.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.srv.sys.Unsubscribe(c.sub)
		c.conn.Close()
		c.logger.Info("client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.PongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *client) handle(ctx context.Context, msg []byte) {
	var resp protocol.Response
	req, err := protocol.Decode(msg)
	if err != nil {
		c.logger.Debug("malformed request", zap.Error(err))
		resp = protocol.ErrorResponse(err)
	} else {
		if f, ok := c.srv.sys.LastFilter(c.sub); ok {
			req = protocol.ApplyFilter(req, f)
		}
		if f, ok := protocol.FilterOf(req); ok {
			c.srv.sys.Remember(c.sub, f)
		}
		resp = protocol.Dispatch(ctx, c.srv.sys, req)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to encode reply", zap.String("type", resp.Type), zap.Error(err))
		return
	}
	select {
	case c.replies <- data:
	case <-c.sub.Done():
	}
}

// writePump writes replies, broadcast frames and pings. It returns when the
// subscription is closed or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		c.srv.sys.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.replies:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case data := <-c.sub.C():
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.sub.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteWait))
	if err := c.conn.WriteMessage(kind, data); err != nil {
		c.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
