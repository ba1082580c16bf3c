package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wsquote.com/internal/quotes/model"
)

func TestMemBroker_FanoutAndUnsubscribe(t *testing.T) {
	b := NewMemBroker()
	ctx, cancel := context.WithCancel(context.Background())

	ch1, err := b.Subscribe(ctx, []string{"quote:TRI.N"})
	require.NoError(t, err)
	ch2, err := b.Subscribe(context.Background(), []string{"quote:TRI.N", "quote:IBM.N"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "quote:TRI.N", []byte("a")))
	assert.Equal(t, "a", string((<-ch1).Payload))
	assert.Equal(t, "a", string((<-ch2).Payload))

	cancel()
	select {
	case _, ok := <-ch1:
		assert.False(t, ok, "ctx 结束后 channel 应该被关闭")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	require.NoError(t, b.Publish(context.Background(), "quote:IBM.N", []byte("b")))
	m := <-ch2
	assert.Equal(t, "quote:IBM.N", m.Topic)
}

func TestPublisher_WriteQuote(t *testing.T) {
	b := NewMemBroker()
	ch, err := b.Subscribe(context.Background(), []string{QuoteTopic("TRI.N")})
	require.NoError(t, err)

	p := NewPublisher(b)
	q := model.Quote{RIC: "TRI.N", Bid: decimal.RequireFromString("39.9"), HasBid: true, TsUnixMs: 42}
	require.NoError(t, p.WriteQuote(context.Background(), q))

	msg := <-ch
	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, "TRI.N", got["ric"])
	assert.Equal(t, "39.9", got["bid"])
	assert.Equal(t, true, got["hasBid"])
	assert.NoError(t, p.Close())
}

func TestTopicToSubject(t *testing.T) {
	assert.Equal(t, "quote.TRI_N", topicToSubject("quote:TRI.N"))
}
