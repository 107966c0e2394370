package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"alerteval/internal/config"
	"alerteval/internal/domain"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alert events to a Kafka topic keyed by alert hash.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates Kafka publisher.
// Params: brokers, topic, and batch timeout.
// Returns: publisher; connections are opened lazily on first write.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: time.Duration(cfg.BatchTimeoutMS) * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish writes cycle events as one batch.
// Params: context and cycle events.
// Returns: marshal or write error.
func (p *KafkaPublisher) Publish(ctx context.Context, events []domain.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal alert event: %w", err)
		}
		messages = append(messages, kafka.Message{
			Key:   partitionKey(event),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(EventID(event))},
				{Key: "signal", Value: []byte(event.Signal)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("write kafka alert events: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
