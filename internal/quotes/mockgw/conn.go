package mockgw

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"wsquote.com/internal/quotes/heartbeat"
	"wsquote.com/internal/quotes/proto"
	"wsquote.com/pkg/logger"
	"wsquote.com/pkg/safe"
)

type Conn struct {
	id string

	ws     *websocket.Conn
	hub    *Hub
	ctrl   chan []byte // login/pong/refresh 这类应答，不能合并
	mu     sync.Mutex
	latest map[string]Fields // LatestOnly：ric -> 未发出的字段（合并）
	order  []string
	stream map[string]int // ric -> 客户端请求的流 id
	notify chan struct{}  // 缓冲 1：合并唤醒
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool

	loggedIn atomic.Bool

	hbMu sync.Mutex
	hb   *heartbeat.Monitor
}

func NewConn(h *Hub, ws *websocket.Conn, ctrlBuf int) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		hub:    h,
		ctrl:   make(chan []byte, ctrlBuf),
		latest: make(map[string]Fields, 4),
		stream: make(map[string]int, 4),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Offer 非阻塞投递一条更新；同一个 ric 未发出的字段会合并
func (c *Conn) Offer(ric string, fields Fields) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	pending, ok := c.latest[ric]
	if !ok {
		pending = make(Fields, len(fields))
		c.latest[ric] = pending
		c.order = append(c.order, ric)
	}
	for k, v := range fields {
		pending[k] = v
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// flushLatest 取出最多 max 个 ric 的待发更新，按首次到达的顺序
func (c *Conn) flushLatest(max int) []frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		return nil
	}
	n := min(len(c.order), max)
	out := make([]frame, 0, n)
	for _, ric := range c.order[:n] {
		// 流已被客户端关闭的更新直接丢
		if id, ok := c.stream[ric]; ok {
			out = append(out, itemUpdate(id, c.latest[ric]))
		}
		delete(c.latest, ric)
	}
	c.order = c.order[n:]
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *Conn) close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

// reply 排队一条应答；连接已关闭时丢弃
func (c *Conn) reply(msgs ...frame) {
	b, err := encode(msgs...)
	if err != nil {
		logger.Error(context.Background(), "encode reply failed", zap.Error(err))
		return
	}
	select {
	case c.ctrl <- b:
	case <-c.done:
	}
}

type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader
	ctx      context.Context

	CtrlBuf     int
	PingTimeout int               // login refresh 下发的 PingTimeout（秒）
	Reject      map[string]string // user -> 拒绝原因
	Tick        time.Duration     // 心跳检查节拍
	WriteWait   time.Duration
	ReadLimit   int64
}

func NewServer(ctx context.Context, h *Hub) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			Subprotocols:    []string{proto.Subprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true }, // 本地模拟网关，不校验 Origin
		},
		CtrlBuf:     64,
		PingTimeout: 30,
		Tick:        time.Second,
		WriteWait:   5 * time.Second,
		ReadLimit:   1 << 16,
	}
}

// Handler 只在 /WebSocket 上接受升级
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/WebSocket", s.ServeWS)
	return mux
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(s.ctx, "upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(s.Hub, wsConn, s.CtrlBuf)
	// 探活周期先用默认值，login 之后换成下发的 PingTimeout
	c.hb = heartbeat.New(0)
	c.hb.Start(time.Now())

	ctx := logger.WithTrace(s.ctx, c.id)
	logger.Info(ctx, "client connected", zap.String("remote", r.RemoteAddr), zap.String("subprotocol", wsConn.Subprotocol()))

	onPanic := func(error) { c.close() }
	safe.GoCtx(ctx, func(ctx context.Context) { s.writePump(ctx, c) }, onPanic)
	safe.GoCtx(ctx, func(ctx context.Context) { s.readPump(ctx, c) }, onPanic)
}

func (s *Server) readPump(ctx context.Context, c *Conn) {
	defer func() {
		c.hub.RemoveConn(c)
		c.close()
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	// 关闭帧：让 ReadMessage 立刻返回
	c.ws.SetCloseHandler(func(code int, text string) error {
		_ = c.ws.SetReadDeadline(time.Now())
		return nil
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ne net.Error
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				logger.Info(ctx, "client closed", zap.Int("code", ce.Code))
			case errors.As(err, &ne) && ne.Timeout():
				logger.Info(ctx, "client gone")
			default:
				logger.Warn(ctx, "read failed", zap.Error(err))
			}
			return
		}

		var req request
		if err := json.Unmarshal(b, &req); err != nil {
			logger.Warn(ctx, "bad request", zap.ByteString("raw", b), zap.Error(err))
		} else {
			s.handle(ctx, c, &req)
		}

		// 放在处理之后：login 下发的新周期对这次重排就生效
		c.hbMu.Lock()
		c.hb.OnInbound(time.Now())
		c.hbMu.Unlock()
	}
}

func (s *Server) handle(ctx context.Context, c *Conn, req *request) {
	switch {
	case req.Type == proto.TypePing:
		c.reply(frame{Type: proto.TypePong})

	case req.Type == proto.TypePong:
		// 只算流量

	case req.Type == proto.TypeClose:
		s.closeStream(ctx, c, req.ID)

	case req.Domain == proto.DomainLogin:
		s.login(ctx, c, req)

	case req.Key != nil && req.Key.Name != "":
		if !c.loggedIn.Load() {
			logger.Warn(ctx, "item request before login", zap.String("ric", req.Key.Name))
			return
		}
		ric := req.Key.Name
		c.mu.Lock()
		c.stream[ric] = req.ID
		c.mu.Unlock()
		ok := c.hub.Subscribe(c, ric, func(snap Fields) {
			c.reply(itemRefresh(req.ID, ric, snap))
		})
		if !ok {
			c.mu.Lock()
			delete(c.stream, ric)
			c.mu.Unlock()
			c.reply(itemNotFound(req.ID, ric))
		}

	default:
		logger.Debug(ctx, "ignoring request", zap.Int("id", req.ID), zap.String("type", string(req.Type)))
	}
}

// closeStream 客户端关闭一个 item 流
func (s *Server) closeStream(ctx context.Context, c *Conn, id int) {
	c.mu.Lock()
	var ric string
	for r, sid := range c.stream {
		if sid == id {
			ric = r
			break
		}
	}
	// 删掉流 id 之后，还没发出的更新在 flushLatest 里丢弃
	if ric != "" {
		delete(c.stream, ric)
	}
	c.mu.Unlock()

	if ric == "" {
		logger.Debug(ctx, "close for unknown stream", zap.Int("id", id))
		return
	}
	c.hub.Unsubscribe(c, ric)
	logger.Info(ctx, "stream closed by client", zap.Int("id", id), zap.String("ric", ric))
}

func (s *Server) login(ctx context.Context, c *Conn, req *request) {
	var user string
	var el loginElements
	if req.Key != nil {
		user = req.Key.Name
		if len(req.Key.Elements) > 0 {
			_ = json.Unmarshal(req.Key.Elements, &el)
		}
	}
	text, rejected := s.Reject[user]
	if user == "" {
		rejected, text = true, "user name is required"
	}
	if rejected {
		if text == "" {
			text = "user not entitled"
		}
		logger.Info(ctx, "login rejected", zap.String("user", user), zap.String("text", text))
		c.reply(loginClosed(user, text))
		return
	}

	c.loggedIn.Store(true)
	c.hbMu.Lock()
	c.hb.Negotiate(s.PingTimeout)
	c.hbMu.Unlock()

	logger.Info(ctx, "login accepted",
		zap.String("user", user),
		zap.String("app_id", el.ApplicationId),
		zap.String("position", el.Position),
		zap.Int("ping_timeout", s.PingTimeout))
	c.reply(loginRefresh(user, s.PingTimeout))
}

const maxFlush = 256 // 单帧最多带多少个 ric 的更新

func (s *Server) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(s.Tick)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.ws.Close()
	}()

	write := func(b []byte) bool {
		_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Warn(ctx, "write failed", zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case b := <-c.ctrl:
			if !write(b) {
				return
			}

		case <-c.notify:
			// 已排队的应答（refresh 等）先发，再发更新
			if !drainCtrl(c, write) {
				return
			}
			if batch := c.flushLatest(maxFlush); len(batch) > 0 {
				b, err := encode(batch...)
				if err != nil {
					logger.Error(ctx, "encode updates failed", zap.Error(err))
				} else if !write(b) {
					return
				}
			}
			// 超过 maxFlush 的留到下一轮
			c.mu.Lock()
			more := len(c.order) > 0
			c.mu.Unlock()
			if more {
				select {
				case c.notify <- struct{}{}:
				default:
				}
			}

		case <-ticker.C:
			c.hbMu.Lock()
			act := c.hb.Tick(time.Now())
			c.hbMu.Unlock()
			switch act {
			case heartbeat.ActionSendPing:
				b, _ := encode(frame{Type: proto.TypePing})
				if !write(b) {
					return
				}
			case heartbeat.ActionTimeout:
				logger.Warn(ctx, "client ping timeout, dropping")
				return
			}

		case <-c.done:
			return

		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(s.WriteWait))
			return
		}
	}
}

func drainCtrl(c *Conn, write func([]byte) bool) bool {
	for {
		select {
		case b := <-c.ctrl:
			if !write(b) {
				return false
			}
		default:
			return true
		}
	}
}
