package model

import (
	"bytes"
	"time"

	"github.com/shopspring/decimal"
)

// 报价字段名（MarketPrice 域）
const (
	FieldBid     = "BID"
	FieldAsk     = "ASK"
	FieldLast    = "TRDPRC_1"
	FieldBidSize = "BIDSIZE"
	FieldAskSize = "ASKSIZE"
)

// Quote 一条报价快照/增量。价格用 decimal，避免 float64 误差。
// Has* 为 false 表示本条消息没有带这个字段（Update 只带变化的字段）。
type Quote struct {
	RIC     string          `json:"ric"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	Last    decimal.Decimal `json:"last"`
	BidSize decimal.Decimal `json:"bidSize"`
	AskSize decimal.Decimal `json:"askSize"`

	HasBid     bool `json:"hasBid"`
	HasAsk     bool `json:"hasAsk"`
	HasLast    bool `json:"hasLast"`
	HasBidSize bool `json:"hasBidSize"`
	HasAskSize bool `json:"hasAskSize"`

	TsUnixMs int64 `json:"ts"` // 本地收到的时间
}

// Fields 按字段名取原始 JSON 值
type Fields interface {
	Field(name string) ([]byte, bool)
}

// FromFields 从 Fields 里取价格字段；一个价格字段都没有时 ok=false
func FromFields(ric string, fields Fields, ts time.Time) (q Quote, ok bool) {
	q = Quote{RIC: ric, TsUnixMs: ts.UnixMilli()}
	q.Bid, q.HasBid = field(fields, FieldBid)
	q.Ask, q.HasAsk = field(fields, FieldAsk)
	q.Last, q.HasLast = field(fields, FieldLast)
	q.BidSize, q.HasBidSize = field(fields, FieldBidSize)
	q.AskSize, q.HasAskSize = field(fields, FieldAskSize)
	return q, q.HasBid || q.HasAsk || q.HasLast
}

// Spread ask - bid，两边都有时才有意义
func (q Quote) Spread() (decimal.Decimal, bool) {
	if !q.HasBid || !q.HasAsk {
		return decimal.Zero, false
	}
	return q.Ask.Sub(q.Bid), true
}

func field(fields Fields, name string) (decimal.Decimal, bool) {
	raw, ok := fields.Field(name)
	if !ok {
		return decimal.Zero, false
	}
	raw = bytes.Trim(bytes.TrimSpace(raw), `"`)
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
