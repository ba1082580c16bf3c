// mock-gateway 本地模拟行情网关，给 market-price 联调用。
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

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"wsquote.com/internal/quotes/gateway"
	"wsquote.com/internal/quotes/mockgw"
	"wsquote.com/pkg/logger"
	"wsquote.com/pkg/safe"
)

const service = "mock-gateway"

type options struct {
	addr        string
	pingTimeout int
	ric         string
	mid         string
	tick        time.Duration
	reject      []string
	natsURL     string
	noFeed      bool
	logLevel    string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func parse(args []string, out io.Writer) (*options, error) {
	var o options
	fs := pflag.NewFlagSet(service, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false
	fs.StringVar(&o.addr, "addr", "127.0.0.1:15000", "listen address")
	fs.IntVar(&o.pingTimeout, "ping_timeout", 30, "PingTimeout (seconds) sent in login refresh")
	fs.StringVar(&o.ric, "ric", "TRI.N", "instrument to publish")
	fs.StringVar(&o.mid, "mid", "40.00", "initial mid price")
	fs.DurationVar(&o.tick, "tick", time.Second, "update period")
	fs.StringSliceVar(&o.reject, "reject", nil, "user names whose login is rejected")
	fs.StringVar(&o.natsURL, "nats_url", "", "relay quotes from NATS subject quote.<ric> (default: in-process broker)")
	fs.BoolVar(&o.noFeed, "no_feed", false, "do not run the random-walk feed (serve only what arrives on the broker)")
	fs.StringVar(&o.logLevel, "log_level", "info", "log level")
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s [options]\n\nOptions:\n", service)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.pingTimeout <= 0 || o.tick <= 0 {
		return nil, errors.New("ping_timeout and tick must be positive")
	}
	return &o, nil
}

func run(args []string, stderr io.Writer) int {
	o, err := parse(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	mid, err := decimal.NewFromString(o.mid)
	if err != nil {
		fmt.Fprintln(stderr, "error: bad --mid:", err)
		return 1
	}

	logger.Init(service, o.logLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := mockgw.NewHub()
	gw := mockgw.NewServer(ctx, hub)
	gw.PingTimeout = o.pingTimeout
	gw.Reject = make(map[string]string, len(o.reject))
	for _, u := range o.reject {
		gw.Reject[u] = "user not entitled"
	}

	// 报价统一走 broker：feed -> broker -> relay -> hub。
	// 用 NATS 时，market-price 发布的报价也会被转进来
	var broker gateway.Broker = gateway.NewMemBroker()
	if o.natsURL != "" {
		nb, err := gateway.NewNatsBroker(o.natsURL, nats.Name(service))
		if err != nil {
			logger.Error(ctx, "connect nats failed", zap.String("url", o.natsURL), zap.Error(err))
			return 1
		}
		broker = nb
	}
	defer broker.Close()

	g, gctx := errgroup.WithContext(ctx)

	relay, err := mockgw.NewRelay(gctx, broker, hub, o.ric)
	if err != nil {
		logger.Error(ctx, "subscribe broker failed", zap.Error(err))
		return 1
	}
	g.Go(func() error {
		return safe.Run(gctx, func(ctx context.Context) error {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	})

	if !o.noFeed {
		feed := mockgw.NewFeed(o.ric, mid)
		feed.Every = o.tick
		pub := gateway.NewPublisher(broker)
		g.Go(func() error {
			return safe.Run(gctx, func(ctx context.Context) error {
				feed.Run(ctx, pub, uint64(time.Now().UnixNano()))
				return nil
			})
		})
	}

	srv := &http.Server{Addr: o.addr, Handler: gw.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info(gctx, "listening", zap.String("addr", o.addr), zap.String("ric", o.ric), zap.Int("ping_timeout", o.pingTimeout))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "mock gateway stopped", zap.Error(err))
		return 1
	}
	return 0
}
