package transport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

type CoderDialer struct {
	opts Options
}

func (d *CoderDialer) Dial(ctx context.Context, url string, subprotocol string) (Conn, error) {
	// Dial timeout：避免网络黑洞卡死
	dctx, cancel := context.WithTimeout(ctx, d.opts.HandshakeTimeout)
	defer cancel()

	c, resp, err := websocket.Dial(dctx, url, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.SetReadLimit(d.opts.ReadLimit)
	return &coderConn{ws: c, opts: d.opts}, nil
}

type coderConn struct {
	ws   *websocket.Conn
	opts Options
}

func (c *coderConn) Read(ctx context.Context) ([]byte, error) {
	_, b, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read: %w (closeStatus=%v)", err, websocket.CloseStatus(err))
	}
	return b, nil
}

func (c *coderConn) Write(ctx context.Context, b []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteWait)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, b)
}

func (c *coderConn) Subprotocol() string { return c.ws.Subprotocol() }

func (c *coderConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
