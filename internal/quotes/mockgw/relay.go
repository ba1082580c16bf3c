package mockgw

import (
	"context"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"wsquote.com/internal/quotes/gateway"
	"wsquote.com/internal/quotes/model"
	"wsquote.com/pkg/logger"
)

// Relay 订阅 broker 上的 quote:<ric>，转成字段推给本地 hub
type Relay struct {
	hub *Hub
	ch  <-chan gateway.Message
}

// NewRelay 立即订阅，保证之后 publish 的报价都能收到；ctx 结束时退订
func NewRelay(ctx context.Context, b gateway.Broker, hub *Hub, rics ...string) (*Relay, error) {
	topics := make([]string, 0, len(rics))
	for _, ric := range rics {
		topics = append(topics, gateway.QuoteTopic(ric))
	}
	ch, err := b.Subscribe(ctx, topics)
	if err != nil {
		return nil, err
	}
	return &Relay{hub: hub, ch: ch}, nil
}

// Run 阻塞直到订阅关闭（返回 nil）或 ctx 结束
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-r.ch:
			if !ok {
				return nil
			}
			var q model.Quote
			if err := json.Unmarshal(m.Payload, &q); err != nil || q.RIC == "" {
				logger.Warn(ctx, "bad quote on broker", zap.String("topic", m.Topic), zap.Error(err))
				continue
			}
			if f := FieldsOf(q); len(f) > 0 {
				r.hub.Publish(q.RIC, f)
			}
		}
	}
}

// FieldsOf 报价里带了的字段，按 MarketPrice 字段名
func FieldsOf(q model.Quote) Fields {
	f := make(Fields, 5)
	put := func(name string, has bool, v interface{ String() string }) {
		if has {
			f[name] = json.RawMessage(v.String())
		}
	}
	put(model.FieldBid, q.HasBid, q.Bid)
	put(model.FieldAsk, q.HasAsk, q.Ask)
	put(model.FieldLast, q.HasLast, q.Last)
	put(model.FieldBidSize, q.HasBidSize, q.BidSize)
	put(model.FieldAskSize, q.HasAskSize, q.AskSize)
	return f
}
