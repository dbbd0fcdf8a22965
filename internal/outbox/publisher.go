// Package outbox runs the notifier loop: it claims ready outbox rows
// and publishes them to the broker, one process-wide loop per process.
package outbox

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// Publisher is the narrow interface the notifier needs; production
// wires *KafkaPublisher, tests can substitute a fake.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// KafkaPublisher wraps a kafka-go Writer tuned for durability:
// RequireAll acks and lz4 compression. kafka-go's Writer has no
// idempotent-producer mode (unlike librdkafka's enable.idempotence),
// so exactly-once production is not attempted here — the outbox's own
// delivered_at marker combined with at-least-once delivery and
// client-side message_id dedup is what the rest of the system relies
// on instead.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Lz4,
			Async:        false,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("outbox: publish: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
