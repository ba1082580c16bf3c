package session

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wsquote.com/internal/quotes/transport"
	"wsquote.com/pkg/xerr"
)

// 模拟行情网关：login → refresh(PingTimeout=1) → 收订阅 → 推报价 → 发 Ping
// → 等客户端的 Pong 和应用层 Ping → 回 Pong → 关闭连接
func newGateway(t *testing.T, seen chan<- string) string {
	t.Helper()
	up := websocket.Upgrader{Subprotocols: []string{"tr_json2"}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/WebSocket" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		read := func() string {
			_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, b, err := c.ReadMessage()
			if err != nil {
				return ""
			}
			seen <- string(b)
			return string(b)
		}
		write := func(s string) { _ = c.WriteMessage(websocket.TextMessage, []byte(s)) }

		if !strings.Contains(read(), `"Domain":"Login"`) {
			return
		}
		write(`[{"ID":1,"Type":"Refresh","Domain":"Login","State":{"Stream":"Open","Data":"Ok"},"Elements":{"PingTimeout":1}}]`)

		if read() != `{"ID":2,"Key":{"Name":"TRI.N"}}` {
			return
		}
		write(`[{"ID":2,"Type":"Refresh","Key":{"Name":"TRI.N"},"State":{"Stream":"Open","Data":"Ok"},"Fields":{"BID":39.9,"ASK":40.05}}]`)
		write(`[{"Type":"Ping"}]`)

		if read() != `{"Type":"Pong"}` {
			return
		}
		// 1s/3 之后客户端应该主动 ping
		if read() != `{"Type":"Ping"}` {
			return
		}
		write(`[{"Type":"Pong"}]`)
		time.Sleep(50 * time.Millisecond)
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/WebSocket"
}

func TestSession_E2E(t *testing.T) {
	for _, kind := range []string{transport.KindGorilla, transport.KindCoder} {
		t.Run(kind, func(t *testing.T) {
			seen := make(chan string, 16)
			url := newGateway(t, seen)

			d, err := transport.New(kind, transport.DefaultOptions())
			require.NoError(t, err)

			sink := make(chanSink, 4)
			var echo bytes.Buffer
			s := New(Config{
				URL:          url,
				User:         "alice",
				AppID:        "256",
				Position:     "127.0.0.1",
				RIC:          "TRI.N",
				TickInterval: 20 * time.Millisecond,
			}, d, WithSinks(sink), WithEcho(&echo))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			err = s.Run(ctx)
			require.Error(t, err)
			assert.Equal(t, xerr.Transport, xerr.CodeOf(err), "对端关闭是致命的传输错误: %v", err)
			assert.Equal(t, StateSubscribed, s.State())
			assert.Equal(t, time.Second, s.Heartbeat().Interval())

			close(seen)
			var got []string
			for m := range seen {
				got = append(got, m)
			}
			require.Len(t, got, 4)
			assert.Equal(t, `{"Type":"Pong"}`, got[2])
			assert.Equal(t, `{"Type":"Ping"}`, got[3])

			q := <-sink
			assert.Equal(t, "TRI.N", q.RIC)
			assert.Equal(t, "40.05", q.Ask.String())

			out := echo.String()
			assert.Contains(t, out, "SENT:\n{\n  \"ID\": 1,")
			assert.Contains(t, out, "RECEIVED:\n[\n  {\n    \"Type\": \"Ping\"")
		})
	}
}
