// Package factory builds the configured event bus producer.
package factory

import (
	"fmt"
	"strings"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/eventbus"
	"github.com/heartline/keyset/pkg/eventbus/kafka"
	"github.com/heartline/keyset/pkg/eventbus/rabbitmq"
	"github.com/heartline/keyset/pkg/eventbus/sqs"
	"github.com/heartline/keyset/pkg/observability/logger"
)

// Publisher pairs a producer with the serializer used to encode records
// for it.
type Publisher struct {
	eventbus.Producer
	Serializer eventbus.Serializer
}

// NewProducer selects and initializes the producer named by cfg.Type.
func NewProducer(cfg config.EventBusConfig, log logger.Logger) (eventbus.Producer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.EventBusTypeKafka:
		return kafka.NewAdapter(kafka.Config{
			Brokers:          cfg.Brokers,
			OperationTimeout: cfg.OperationTimeout,
			Compression:      cfg.Compression,
		}, log)
	case config.EventBusTypeRabbitMQ:
		url := cfg.URL
		if url == "" && len(cfg.Brokers) > 0 {
			url = cfg.Brokers[0]
		}
		return rabbitmq.NewAdapter(rabbitmq.Config{
			URL:              url,
			Exchange:         cfg.Exchange,
			ExchangeType:     cfg.ExchangeType,
			RoutingKey:       cfg.RoutingKey,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
	case config.EventBusTypeSQS:
		return sqs.NewAdapter(sqs.Config{
			Region:           cfg.Region,
			QueueURL:         cfg.QueueURL,
			Endpoint:         cfg.Endpoint,
			AccessKeyID:      cfg.AccessKeyID,
			SecretAccessKey:  cfg.SecretAccessKey,
			SessionToken:     cfg.SessionToken,
			OperationTimeout: cfg.OperationTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported eventbus.type %q (supported: kafka, rabbitmq, sqs)", cfg.Type)
	}
}

// NewPublisher builds the producer and its serializer. The serializer is
// resolved first so a bad format never opens a connection.
func NewPublisher(cfg config.EventBusConfig, log logger.Logger) (*Publisher, error) {
	serializer, err := eventbus.NewSerializer(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	producer, err := NewProducer(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Publisher{Producer: producer, Serializer: serializer}, nil
}
