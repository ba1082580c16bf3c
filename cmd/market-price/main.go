// market-price 连接行情网关，login 后订阅一个品种，靠应用层 ping/pong 保活。
// 任何错误都直接退出（退出码 1），不重连；只有 --help 返回 0。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"wsquote.com/internal/quotes/gateway"
	"wsquote.com/internal/quotes/session"
	"wsquote.com/internal/quotes/storage/influxsink"
	"wsquote.com/internal/quotes/transport"
	"wsquote.com/internal/quotes/wsmetrics"
	"wsquote.com/pkg/config"
	"wsquote.com/pkg/logger"
	"wsquote.com/pkg/safe"
	"wsquote.com/pkg/xerr"
)

const service = "market-price"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, v, err := config.Load(service, args, stderr)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return xerr.ExitCode(err)
	}

	logger.InitWithFile(service, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()

	// ========= 优雅退出 =========
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 配置文件热更新：目前只有日志级别能在运行中生效
	config.Watch(v, func(c *config.Config) {
		if logger.SetLevel(c.Log.Level) {
			logger.Info(ctx, "log level reloaded", zap.String("level", c.Log.Level))
		}
	}, func(err error) {
		logger.Warn(ctx, "reload config failed", zap.Error(err))
	})

	logger.Info(ctx, "starting",
		zap.String("url", cfg.URL()),
		zap.String("user", cfg.User),
		zap.String("app_id", cfg.AppID),
		zap.String("position", cfg.Position),
		zap.String("ric", cfg.RIC),
		zap.String("transport", cfg.Transport.Kind))

	err = serve(ctx, cfg, stdout)
	logger.Error(ctx, "session ended",
		zap.Int("code", xerr.CodeOf(err)),
		zap.Error(err))
	return xerr.ExitCode(err)
}

func serve(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	dialer, err := transport.New(cfg.Transport.Kind, transport.Options{
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		WriteWait:        cfg.Transport.WriteWait,
		ReadLimit:        cfg.Transport.ReadLimit,
	})
	if err != nil {
		return xerr.Wrap(err, xerr.Config, "transport")
	}

	sinks, closeSinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	sess := session.New(session.Config{
		URL:          cfg.URL(),
		User:         cfg.User,
		AppID:        cfg.AppID,
		Position:     cfg.Position,
		RIC:          cfg.RIC,
		TickInterval: cfg.Heartbeat.Tick,
		PingInterval: cfg.Heartbeat.Interval,
		LoginTimeout: cfg.Heartbeat.LoginTimeout,
	}, dialer, session.WithEcho(stdout), session.WithSinks(sinks...))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", wsmetrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			return safe.Run(gctx, func(ctx context.Context) error {
				logger.Info(ctx, "metrics listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return xerr.Wrap(err, xerr.Config, "metrics server")
				}
				return nil
			})
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		})
	}

	g.Go(func() error {
		return safe.Run(gctx, sess.Run)
	})
	return g.Wait()
}

// buildSinks 报价下游：NATS 转发、InfluxDB 落库，都是可选的
func buildSinks(ctx context.Context, cfg *config.Config) ([]session.QuoteSink, func(), error) {
	var (
		sinks   []session.QuoteSink
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	if cfg.Publish.NatsURL != "" {
		broker, err := gateway.NewNatsBroker(cfg.Publish.NatsURL)
		if err != nil {
			return nil, closeAll, xerr.Wrap(err, xerr.Config, "connect nats")
		}
		pub := gateway.NewPublisher(broker)
		sinks = append(sinks, pub)
		closers = append(closers, pub.Close)
		logger.Info(ctx, "publishing quotes to nats", zap.String("url", cfg.Publish.NatsURL))
	}

	icfg := influxsink.Config{
		URL:           cfg.Influx.URL,
		Token:         cfg.Influx.Token,
		Org:           cfg.Influx.Org,
		Bucket:        cfg.Influx.Bucket,
		BatchSize:     cfg.Influx.BatchSize,
		FlushInterval: cfg.Influx.FlushInterval,
	}
	if icfg.Enabled() {
		sink := influxsink.New(icfg)
		sinks = append(sinks, sink)
		closers = append(closers, sink.Close)
		logger.Info(ctx, "writing quotes to influxdb", zap.Stringer("influx", icfg))
	}
	return sinks, closeAll, nil
}
