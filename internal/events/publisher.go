// README: Kafka publisher for order transition events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"grocer/internal/modules/order"
)

// Publisher writes transition events to a Kafka topic, keyed by order id so
// per-order ordering is preserved within a partition.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Publisher{writer: writer}
}

func (p *Publisher) PublishTransition(ctx context.Context, ev order.TransitionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: data,
		Time:  ev.At,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
