// Package kafka publishes records to Kafka topics with segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/heartline/keyset/pkg/eventbus"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/tracing"
)

var errClosed = errors.New("kafka adapter is closed")

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the configuration for the Kafka adapter.
type Config struct {
	Brokers []string
	// OperationTimeout bounds each publish call.
	OperationTimeout time.Duration
	// MaxRetries is the number of write attempts per batch.
	MaxRetries int
	// BatchBytes caps one produce request; zero keeps the client default.
	BatchBytes int64
	// Compression is one of none, gzip, snappy, lz4 or zstd.
	Compression string
}

// Adapter implements eventbus.Producer for Kafka. Messages are partitioned
// by key hash, so records sharing a key keep their relative order.
type Adapter struct {
	producer writer
	logger   logger.Logger
	config   Config
	closed   atomic.Bool
}

var _ eventbus.Producer = (*Adapter)(nil)

// NewAdapter creates a producer requiring acks from all in-sync replicas.
// Connections are opened on the first publish.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker address is required")
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if log == nil {
		log = logger.Nop()
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries,
		BatchBytes:   cfg.BatchBytes,
		WriteTimeout: cfg.OperationTimeout,
		ReadTimeout:  cfg.OperationTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  codec,
	}
	log.Info("kafka adapter initialized", "brokers", cfg.Brokers, "compression", cfg.Compression)
	return newAdapter(w, cfg, log), nil
}

func newAdapter(w writer, cfg Config, log logger.Logger) *Adapter {
	return &Adapter{producer: w, logger: log, config: cfg}
}

func parseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	}
	return 0, fmt.Errorf("unsupported kafka compression %q", name)
}

func (a *Adapter) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	if message == nil {
		return errors.New("message cannot be nil")
	}
	return a.PublishBatch(ctx, topic, []*eventbus.Message{message})
}

// PublishBatch writes messages to topic in one produce call. When the
// brokers reject only part of the batch the error says how many failed.
func (a *Adapter) PublishBatch(ctx context.Context, topic string, messages []*eventbus.Message) error {
	if a.closed.Load() {
		return errClosed
	}
	if len(messages) == 0 {
		return nil
	}

	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationPublish,
		tracing.WithDestination(topic), tracing.WithSystem("kafka"))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	out := make([]kafka.Message, len(messages))
	for i, msg := range messages {
		out[i] = toKafkaMessage(topic, msg)
	}

	err := a.producer.WriteMessages(ctx, out...)
	if err == nil {
		a.logger.Debug("batch published", "topic", topic, "batch_size", len(messages))
		return nil
	}
	tracing.RecordError(span, err)

	var partial kafka.WriteErrors
	if errors.As(err, &partial) {
		a.logger.Error("batch partially published", "topic", topic, "failed", partial.Count(), "batch_size", len(messages))
		return fmt.Errorf("%d of %d messages to topic %s failed: %w", partial.Count(), len(messages), topic, err)
	}
	a.logger.Error("failed to publish batch", "topic", topic, "batch_size", len(messages), "error", err)
	return fmt.Errorf("failed to publish batch to topic %s: %w", topic, err)
}

// HealthCheck succeeds when any broker answers a metadata request.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.closed.Load() {
		return errClosed
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for _, broker := range a.config.Brokers {
		err := probeBroker(ctx, broker)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

func probeBroker(ctx context.Context, addr string) error {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("metadata from %s: %w", addr, err)
	}
	return nil
}

// Close flushes pending writes and closes the producer once.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	if err := a.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	a.logger.Info("kafka adapter closed")
	return nil
}

func toKafkaMessage(topic string, msg *eventbus.Message) kafka.Message {
	headers := convertHeaders(msg.Headers)
	if msg.ID != "" {
		headers = append(headers, kafka.Header{Key: "message-id", Value: []byte(msg.ID)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
		Time:    msg.Timestamp,
	}
}

// convertHeaders returns the headers sorted by key so identical messages
// produce identical records.
func convertHeaders(headers map[string]string) []kafka.Header {
	if headers == nil {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]kafka.Header, len(keys))
	for i, k := range keys {
		out[i] = kafka.Header{Key: k, Value: []byte(headers[k])}
	}
	return out
}
