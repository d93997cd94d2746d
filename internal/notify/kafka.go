// Package notify feeds persisted messages into the Kafka pipeline consumed
// by the notification service. Delivery to connected sessions never depends
// on it; failures here are logged and dropped.
package notify

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/gebre-tech/backend/internal/domain"
)

type Notifier interface {
	MessagePersisted(ctx context.Context, m *domain.Message) error
}

type Producer struct {
	writer *kafkago.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Producer{writer: w}
}

func (p *Producer) MessagePersisted(ctx context.Context, m *domain.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	// key by conversation so consumers see each conversation in order
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(m.ConversationID),
		Value: b,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
