package gateway

import (
	"context"
	"strings"

	"github.com/segmentio/encoding/json"
	"wsquote.com/internal/quotes/model"
)

type Message struct {
	Topic   string
	Payload []byte
}

type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe ctx 结束时退订并关闭返回的 channel
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}

// QuoteTopic quote:<ric>
func QuoteTopic(ric string) string { return "quote:" + ric }

// Publisher 把报价编码成 JSON 转发到 Broker
type Publisher struct {
	broker Broker
}

func NewPublisher(b Broker) *Publisher {
	return &Publisher{broker: b}
}

func (p *Publisher) WriteQuote(ctx context.Context, q model.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return p.broker.Publish(ctx, QuoteTopic(q.RIC), payload)
}

func (p *Publisher) Close() error { return p.broker.Close() }

// NATS subject 不允许 ':'，RIC 里的 '.' 也要避开层级分隔
func topicToSubject(topic string) string {
	return strings.NewReplacer(".", "_", ":", ".").Replace(topic)
}
