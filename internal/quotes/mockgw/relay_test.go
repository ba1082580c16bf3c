package mockgw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wsquote.com/internal/quotes/gateway"
)

// feed -> Publisher -> broker -> Relay -> hub 快照
func TestRelay_FeedThroughBroker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	broker := gateway.NewMemBroker()
	relay, err := NewRelay(ctx, broker, hub, "TRI.N")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	feed := NewFeed("TRI.N", decimal.RequireFromString("40"))
	feed.Every = 10 * time.Millisecond
	go feed.Run(ctx, gateway.NewPublisher(broker), 7)

	c := NewConn(hub, nil, 4)
	var snap Fields
	require.Eventually(t, func() bool {
		return hub.Subscribe(c, "TRI.N", func(f Fields) { snap = f })
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, snap, 5)
	assert.Contains(t, snap, "BID")
	assert.Contains(t, snap, "ASKSIZE")

	// 后续 tick 推到订阅者
	select {
	case <-c.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("relayed update not offered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			assert.True(t, errors.Is(err, context.Canceled))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_SkipsBadPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	broker := gateway.NewMemBroker()
	relay, err := NewRelay(ctx, broker, hub, "TRI.N")
	require.NoError(t, err)
	go func() { _ = relay.Run(ctx) }()

	topic := gateway.QuoteTopic("TRI.N")
	require.NoError(t, broker.Publish(ctx, topic, []byte("not json")))
	require.NoError(t, broker.Publish(ctx, topic, []byte(`{"ric":"TRI.N","bid":"39.9","hasBid":true}`)))

	c := NewConn(hub, nil, 4)
	var snap Fields
	require.Eventually(t, func() bool {
		return hub.Subscribe(c, "TRI.N", func(f Fields) { snap = f })
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Fields{"BID": raw("39.9")}, snap)
}
