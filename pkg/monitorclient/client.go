// Package monitorclient is a websocket client for a running monitor server.
package monitorclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/monitor"
	"acctmonitor/internal/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Reply is a response as received on the wire.
type Reply struct {
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Field     string          `json:"field"`
	LoginID   account.ID      `json:"login_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ServerError is an error reply from the server.
type ServerError struct {
	Field   string
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Client sends requests over one websocket connection. Broadcast frames that
// arrive while waiting for a reply are passed to the frame handler, if set.
type Client struct {
	url     string
	logger  *zap.Logger
	dialer  *websocket.Dialer
	mu      sync.Mutex
	conn    *websocket.Conn
	handler func(monitor.Frame)
}

func New(url string, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// SetFrameHandler sets the function receiving broadcast frames.
func (c *Client) SetFrameHandler(h func(monitor.Frame)) {
	c.handler = h
}

// Connect dials the server.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.logger.Error("failed to connect to monitor", zap.String("url", c.url), zap.Error(err))
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.logger.Debug("monitor connected", zap.String("url", c.url))
	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func isFrame(typ string) bool {
	return typ == monitor.FrameInitial || typ == monitor.FrameUpdate
}

// dispatchFrame hands a broadcast frame to the handler.
func (c *Client) dispatchFrame(msg []byte) {
	if c.handler == nil {
		return
	}
	var f monitor.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		c.logger.Warn("failed to decode frame", zap.Error(err))
		return
	}
	c.handler(f)
}

// Do sends req and waits for its reply. An error reply is returned as a
// *ServerError.
func (c *Client) Do(ctx context.Context, req map[string]any) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return Reply{}, errors.New("not connected")
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	c.conn.SetWriteDeadline(deadline)
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	if err := c.conn.WriteJSON(req); err != nil {
		return Reply{}, fmt.Errorf("send request: %w", err)
	}

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return Reply{}, fmt.Errorf("read reply: %w", err)
		}
		var r Reply
		if err := json.Unmarshal(msg, &r); err != nil {
			return Reply{}, fmt.Errorf("decode reply: %w", err)
		}
		if isFrame(r.Type) {
			c.dispatchFrame(msg)
			continue
		}
		if r.Type == protocol.TypeError {
			return r, &ServerError{Field: r.Field, Message: r.Message}
		}
		return r, nil
	}
}

func (c *Client) call(ctx context.Context, req map[string]any, out any) error {
	r, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", r.Type, err)
	}
	return nil
}

func (c *Client) AddAccount(ctx context.Context, id account.ID) error {
	return c.call(ctx, map[string]any{"type": protocol.TypeAddAccount, "login_id": id}, nil)
}

func (c *Client) RemoveAccount(ctx context.Context, id account.ID) error {
	return c.call(ctx, map[string]any{"type": protocol.TypeRemoveAccount, "login_id": id}, nil)
}

func (c *Client) Snapshot(ctx context.Context, id account.ID) (monitor.AccountView, error) {
	var v monitor.AccountView
	err := c.call(ctx, map[string]any{"type": protocol.TypeGetSnapshot, "login_id": id}, &v)
	return v, err
}

func (c *Client) Snapshots(ctx context.Context) ([]monitor.AccountView, error) {
	var v []monitor.AccountView
	err := c.call(ctx, map[string]any{"type": protocol.TypeGetSnapshot}, &v)
	return v, err
}

func (c *Client) Exposure(ctx context.Context, symbol string) (protocol.ExposureData, error) {
	req := map[string]any{"type": protocol.TypeGetExposure}
	if symbol != "" {
		req["symbol"] = symbol
	}
	var v protocol.ExposureData
	err := c.call(ctx, req, &v)
	return v, err
}

func (c *Client) Stats(ctx context.Context) (monitor.Stats, error) {
	var v monitor.Stats
	err := c.call(ctx, map[string]any{"type": protocol.TypeGetStats}, &v)
	return v, err
}

func (c *Client) Alerts(ctx context.Context) ([]account.Alert, error) {
	var v []account.Alert
	err := c.call(ctx, map[string]any{"type": protocol.TypeGetAlerts}, &v)
	return v, err
}

func (c *Client) Trades(ctx context.Context, id account.ID, refresh bool) (monitor.AccountTrades, error) {
	var v monitor.AccountTrades
	err := c.call(ctx, map[string]any{"type": protocol.TypeGetTrades, "login_id": id, "refresh": refresh}, &v)
	return v, err
}

// Listen passes every broadcast frame to the frame handler until ctx is
// cancelled, reconnecting after read failures.
func (c *Client) Listen(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("not connected")
	}
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_, msg, err := conn.ReadMessage()
		if err == nil {
			var meta struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(msg, &meta) == nil && isFrame(meta.Type) {
				c.dispatchFrame(msg)
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("monitor read failed", zap.Error(err))

		// Retry reconnecting until ctx is done
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			if err := c.reconnect(ctx); err != nil {
				c.logger.Warn("retrying reconnect", zap.Error(err))
				continue
			}
			c.logger.Info("reconnected to monitor")
			break
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	return nil
}
