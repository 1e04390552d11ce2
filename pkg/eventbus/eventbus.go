// Package eventbus defines the producer side of a message broker. Exports
// use it to push records into reindex topics and queues.
package eventbus

import (
	"context"
	"time"
)

// Producer publishes messages to topics.
type Producer interface {
	// Publish sends a single message to topic.
	Publish(ctx context.Context, topic string, message *Message) error

	// PublishBatch sends messages to topic in one operation. It fails if any
	// message in the batch fails.
	PublishBatch(ctx context.Context, topic string, messages []*Message) error

	// HealthCheck verifies connectivity to the broker.
	HealthCheck(ctx context.Context) error

	// Close flushes pending messages and shuts the producer down.
	Close() error
}

// Message is one record on its way to a topic.
type Message struct {
	// ID is a unique identifier for the message.
	ID string

	// Key routes the message. Brokers that partition (Kafka) keep messages
	// with the same key in order; SQS FIFO queues use it as the group id.
	Key string

	// Value is the serialized payload.
	Value []byte

	Headers map[string]string

	// ContentType is the serializer's MIME type.
	ContentType string

	Timestamp time.Time
}

// NewMessage builds a message for value serialized with s.
func NewMessage(s Serializer, id, key string, value any) (*Message, error) {
	data, err := s.Serialize(value)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:          id,
		Key:         key,
		Value:       data,
		Headers:     map[string]string{"content-type": s.ContentType()},
		ContentType: s.ContentType(),
		Timestamp:   time.Now().UTC(),
	}, nil
}
