// Package session 一条到行情网关的 websocket 会话：login、订阅单个品种、应用层 ping/pong 探活。
//
// 所有可变状态（连接、状态机、心跳）只由 Run 的主循环读写；reader 协程只负责把
// 收到的帧按顺序投递进 channel。任何致命错误都直接返回，不做重连。
package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"wsquote.com/internal/quotes/heartbeat"
	"wsquote.com/internal/quotes/model"
	"wsquote.com/internal/quotes/proto"
	"wsquote.com/internal/quotes/transport"
	"wsquote.com/internal/quotes/wsmetrics"
	"wsquote.com/pkg/logger"
	"wsquote.com/pkg/safe"
	"wsquote.com/pkg/xerr"
)

type Config struct {
	URL      string
	User     string
	AppID    string
	Position string
	RIC      string

	TickInterval time.Duration // 心跳检查节拍，默认 1s
	PingInterval time.Duration // login 前的探活周期，默认 30s
	LoginTimeout time.Duration // 0 表示不限
}

// QuoteSink 报价下游（NATS、InfluxDB ...），写失败只记日志
type QuoteSink interface {
	WriteQuote(ctx context.Context, q model.Quote) error
}

type Option func(*Session)

// WithEcho 收发的 JSON 报文格式化后写到 w（默认丢弃）
func WithEcho(w io.Writer) Option { return func(s *Session) { s.echo = w } }

func WithSinks(sinks ...QuoteSink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sinks...) }
}

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

type Session struct {
	cfg    Config
	dialer transport.Dialer
	echo   io.Writer
	sinks  []QuoteSink
	now    func() time.Time

	conn  transport.Conn
	state State
	hb    *heartbeat.Monitor
}

// inbound 帧和读错误走同一个 channel，保证顺序
type inbound struct {
	data []byte
	err  error
}

func New(cfg Config, dialer transport.Dialer, opts ...Option) *Session {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = heartbeat.DefaultInterval
	}
	s := &Session{
		cfg:    cfg,
		dialer: dialer,
		echo:   io.Discard,
		now:    time.Now,
		hb:     heartbeat.New(cfg.PingInterval),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) State() State { return s.state }

func (s *Session) Heartbeat() *heartbeat.Monitor { return s.hb }

// Run 阻塞直到出现致命错误或 ctx 结束。返回值永远非 nil。
func (s *Session) Run(ctx context.Context) error {
	ctx = logger.WithTrace(ctx, uuid.NewString())
	s.setState(StateConnecting)

	logger.Info(ctx, "connecting", zap.String("url", s.cfg.URL), zap.String("subprotocol", proto.Subprotocol))
	conn, err := s.dialer.Dial(ctx, s.cfg.URL, proto.Subprotocol)
	if err != nil {
		return xerr.Wrap(err, xerr.Transport, "connect")
	}
	s.conn = conn
	wsmetrics.OnOpen()
	closeReason := "error"
	defer func() {
		_ = conn.Close()
		wsmetrics.OnClose(closeReason)
	}()

	if sp := conn.Subprotocol(); sp != proto.Subprotocol {
		logger.Warn(ctx, "server did not confirm subprotocol", zap.String("got", sp))
	}
	logger.Info(ctx, "websocket opened")

	if err := s.onOpen(ctx); err != nil {
		return err
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	in := make(chan inbound, 64)
	safe.GoCtx(rctx, func(ctx context.Context) { s.readLoop(ctx, in) }, func(err error) {
		select {
		case in <- inbound{err: err}:
		case <-rctx.Done():
		}
	})

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var loginDeadline <-chan time.Time
	if s.cfg.LoginTimeout > 0 {
		t := time.NewTimer(s.cfg.LoginTimeout)
		defer t.Stop()
		loginDeadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			closeReason = "shutdown"
			logger.Info(ctx, "shutting down", zap.Error(ctx.Err()))
			return ctx.Err()

		case ev := <-in:
			if ev.err != nil {
				closeReason = "transport"
				return xerr.Wrap(ev.err, xerr.Transport, "connection closed")
			}
			if err := s.handleFrame(ctx, ev.data); err != nil {
				closeReason = reasonOf(err)
				return err
			}

		case <-ticker.C:
			if err := s.onTick(ctx); err != nil {
				closeReason = reasonOf(err)
				return err
			}

		case <-loginDeadline:
			if s.state < StateLoggedIn {
				closeReason = "login_timeout"
				return xerr.Wrap(fmt.Errorf("no login refresh within %s", s.cfg.LoginTimeout),
					xerr.LoginTimeout, "login")
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, in chan<- inbound) {
	for {
		b, err := s.conn.Read(ctx)
		select {
		case in <- inbound{data: b, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// onOpen 连接建立：发 login，开始计时
func (s *Session) onOpen(ctx context.Context) error {
	req, err := proto.LoginRequest(s.cfg.User, s.cfg.AppID, s.cfg.Position)
	if err != nil {
		return xerr.Wrap(err, xerr.Internal, "encode login")
	}
	if err := s.send(ctx, "login", req); err != nil {
		return err
	}
	s.hb.Start(s.now())
	wsmetrics.PingIntervalSeconds.Set(s.hb.Interval().Seconds())
	s.setState(StateAwaitingLogin)
	return nil
}

func (s *Session) onTick(ctx context.Context) error {
	switch s.hb.Tick(s.now()) {
	case heartbeat.ActionSendPing:
		return s.send(ctx, "ping", proto.Ping())
	case heartbeat.ActionTimeout:
		wsmetrics.PingTimeoutTotal.Inc()
		return xerr.Wrap(fmt.Errorf("no traffic within %s after ping", s.hb.Interval()),
			xerr.PingTimeout, "heartbeat")
	}
	return nil
}

// handleFrame 一帧可能带多条消息。任何帧（包括解析失败的）都算流量。
func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	wsmetrics.ObserveFrame(len(frame))
	fmt.Fprintf(s.echo, "RECEIVED:\n%s\n", proto.Pretty(frame))

	now := s.now()
	msgs, err := proto.Decode(frame)
	if err != nil {
		wsmetrics.MalformedTotal.Inc()
		logger.Warn(ctx, "dropping malformed frame", zap.Error(err))
		s.hb.OnInbound(now)
		return nil
	}

	for i := range msgs {
		msg := &msgs[i]
		wsmetrics.MsgsInTotal.WithLabelValues(string(msg.Type), string(msg.Domain)).Inc()
		if err := s.dispatch(ctx, msg, now); err != nil {
			return err
		}
	}
	// 放在分派之后：login 协商出的新周期对这一次重排就生效
	s.hb.OnInbound(now)
	return nil
}

func (s *Session) dispatch(ctx context.Context, msg *proto.Message, now time.Time) error {
	switch {
	case msg.Type == proto.TypePing:
		return s.send(ctx, "pong", proto.Pong())

	case msg.IsLogin() && msg.Type == proto.TypeRefresh:
		return s.onLoginRefresh(ctx, msg)

	case msg.IsLogin() && msg.Type == proto.TypeStatus:
		if !msg.State.Open() {
			return loginRejected(msg)
		}

	case msg.Domain == proto.DomainMarketPrice && (msg.Type == proto.TypeRefresh || msg.Type == proto.TypeUpdate):
		s.onQuote(ctx, msg, now)
	}
	return nil
}

func (s *Session) onLoginRefresh(ctx context.Context, msg *proto.Message) error {
	// 流必须是 Open 且数据状态 Ok，否则视为登录失败
	if !msg.State.Open() || msg.State.Data != proto.DataOk {
		return loginRejected(msg)
	}

	subscribe := s.state != StateSubscribed
	if subscribe {
		s.setState(StateLoggedIn)
	}
	if sec, ok := msg.LoginPingTimeout(); ok && s.hb.Negotiate(sec) {
		wsmetrics.PingIntervalSeconds.Set(s.hb.Interval().Seconds())
	}
	logger.Info(ctx, "login accepted",
		zap.String("user", s.cfg.User),
		zap.Duration("ping_interval", s.hb.Interval()))

	if !subscribe {
		return nil
	}
	req, err := proto.ItemRequest(s.cfg.RIC)
	if err != nil {
		return xerr.Wrap(err, xerr.Internal, "encode item request")
	}
	if err := s.send(ctx, "item", req); err != nil {
		return err
	}
	s.setState(StateSubscribed)
	logger.Info(ctx, "subscribed", zap.String("ric", s.cfg.RIC))
	return nil
}

func (s *Session) onQuote(ctx context.Context, msg *proto.Message, now time.Time) {
	if len(s.sinks) == 0 {
		return
	}
	ric := msg.Name()
	if ric == "" {
		ric = s.cfg.RIC
	}
	q, ok := model.FromFields(ric, msg, now)
	if !ok {
		return
	}
	wsmetrics.QuotesTotal.WithLabelValues(ric).Inc()
	for _, sink := range s.sinks {
		if err := sink.WriteQuote(ctx, q); err != nil {
			logger.Warn(ctx, "quote sink failed", zap.String("ric", ric), zap.Error(err))
		}
	}
}

func (s *Session) send(ctx context.Context, kind string, b []byte) error {
	fmt.Fprintf(s.echo, "SENT:\n%s\n", proto.Pretty(b))
	start := time.Now()
	err := s.conn.Write(ctx, b)
	wsmetrics.ObserveWrite(kind, time.Since(start), err)
	if err != nil {
		return xerr.Wrap(err, xerr.Transport, "write "+kind)
	}
	return nil
}

func (s *Session) setState(st State) {
	s.state = st
	wsmetrics.SessionState.Set(float64(st))
}

func loginRejected(msg *proto.Message) error {
	var stream, data, text string
	if msg.State != nil {
		stream, data, text = msg.State.Stream, msg.State.Data, msg.State.Text
	}
	return xerr.Wrap(fmt.Errorf("stream=%s data=%s text=%q", stream, data, text),
		xerr.LoginRejected, "login")
}

func reasonOf(err error) string {
	switch xerr.CodeOf(err) {
	case xerr.PingTimeout:
		return "ping_timeout"
	case xerr.LoginRejected:
		return "login_rejected"
	case xerr.Transport:
		return "transport"
	default:
		return "error"
	}
}
