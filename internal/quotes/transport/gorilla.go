package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type GorillaDialer struct {
	opts Options
}

func (d *GorillaDialer) Dial(ctx context.Context, url string, subprotocol string) (Conn, error) {
	dl := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.opts.HandshakeTimeout,
		Subprotocols:     []string{subprotocol},
	}
	c, resp, err := dl.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.SetReadLimit(d.opts.ReadLimit)
	return &gorillaConn{ws: c, writeWait: d.opts.WriteWait}, nil
}

type gorillaConn struct {
	ws        *websocket.Conn
	writeWait time.Duration
}

func (c *gorillaConn) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// gorilla 的读不吃 ctx；取消时由会话 Close 连接让 ReadMessage 返回
	_, b, err := c.ws.ReadMessage()
	return b, err
}

func (c *gorillaConn) Write(ctx context.Context, b []byte) error {
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *gorillaConn) Subprotocol() string { return c.ws.Subprotocol() }

// Close 先尽力发 close 帧，再关底层连接
func (c *gorillaConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(c.writeWait))
	return c.ws.Close()
}
