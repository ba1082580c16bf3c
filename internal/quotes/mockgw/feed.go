package mockgw

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"wsquote.com/internal/quotes/model"
	"wsquote.com/pkg/logger"
)

// QuoteWriter 报价的去处（gateway.Publisher 等）
type QuoteWriter interface {
	WriteQuote(ctx context.Context, q model.Quote) error
}

// Feed 随机游走的行情源
type Feed struct {
	RIC    string
	Mid    decimal.Decimal
	Spread decimal.Decimal
	Step   decimal.Decimal // 每次最多变动多少
	Every  time.Duration
}

func NewFeed(ric string, mid decimal.Decimal) *Feed {
	return &Feed{
		RIC:    ric,
		Mid:    mid,
		Spread: decimal.RequireFromString("0.02"),
		Step:   decimal.RequireFromString("0.05"),
		Every:  time.Second,
	}
}

// Next 走一步，返回带全部字段的报价
func (f *Feed) Next(r *rand.Rand, now time.Time) model.Quote {
	// [-Step, +Step]，保留两位
	move := f.Step.Mul(decimal.NewFromFloat(r.Float64()*2 - 1)).Round(2)
	mid := f.Mid.Add(move)
	if mid.LessThanOrEqual(f.Spread) {
		mid = f.Mid
	}
	f.Mid = mid

	half := f.Spread.Div(decimal.NewFromInt(2))
	return model.Quote{
		RIC:        f.RIC,
		Bid:        mid.Sub(half).Round(2),
		Ask:        mid.Add(half).Round(2),
		Last:       mid.Round(2),
		BidSize:    decimal.NewFromInt(100 * (1 + r.Int64N(50))),
		AskSize:    decimal.NewFromInt(100 * (1 + r.Int64N(50))),
		HasBid:     true,
		HasAsk:     true,
		HasLast:    true,
		HasBidSize: true,
		HasAskSize: true,
		TsUnixMs:   now.UnixMilli(),
	}
}

// Run 先写一条初始报价，然后每 Every 写一次，直到 ctx 结束
func (f *Feed) Run(ctx context.Context, w QuoteWriter, seed uint64) {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	emit := func() {
		if err := w.WriteQuote(ctx, f.Next(r, time.Now())); err != nil {
			logger.Warn(ctx, "feed write failed", zap.String("ric", f.RIC), zap.Error(err))
		}
	}
	emit()

	t := time.NewTicker(f.Every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "feed stopped", zap.String("ric", f.RIC))
			return
		case <-t.C:
			emit()
		}
	}
}
