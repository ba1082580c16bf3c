package influxsink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"
	"wsquote.com/internal/quotes/model"
	"wsquote.com/pkg/logger"
)

type Config struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`

	BatchSize     uint          `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	UseGzip       bool          `mapstructure:"use_gzip"`
}

func (cfg Config) Enabled() bool { return cfg.URL != "" }

type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
	done   chan struct{}
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	w := c.WriteAPI(cfg.Org, cfg.Bucket)
	s := &Sink{client: c, write: w, done: make(chan struct{})}

	// 必须消费 Errors()，否则异步写入错误会阻塞
	go func() {
		defer close(s.done)
		for err := range w.Errors() {
			logger.Warn(context.Background(), "influx write failed", zap.Error(err))
		}
	}()
	return s
}

// Point 一条报价对应的点：measurement=quote，tag=ric，只写本条带了的字段
func Point(q model.Quote) *write.Point {
	fields := make(map[string]interface{}, 5)
	if q.HasBid {
		fields["bid"] = q.Bid.InexactFloat64()
	}
	if q.HasAsk {
		fields["ask"] = q.Ask.InexactFloat64()
	}
	if q.HasLast {
		fields["last"] = q.Last.InexactFloat64()
	}
	if q.HasBidSize {
		fields["bid_size"] = q.BidSize.InexactFloat64()
	}
	if q.HasAskSize {
		fields["ask_size"] = q.AskSize.InexactFloat64()
	}
	return write.NewPoint("quote", map[string]string{"ric": q.RIC}, fields, time.UnixMilli(q.TsUnixMs))
}

func (s *Sink) WriteQuote(ctx context.Context, q model.Quote) error {
	s.write.WritePoint(Point(q))
	return nil
}

// Close flush 缓冲并关闭，等最后的写入错误都记完日志再返回
func (s *Sink) Close() error {
	s.write.Flush()
	s.client.Close()
	<-s.done
	return nil
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}
