// Package rabbitmq publishes records to a RabbitMQ exchange with publisher
// confirms, so a nil error means the broker has taken the message.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/heartline/keyset/pkg/eventbus"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/tracing"
)

var (
	errClosed = errors.New("rabbitmq adapter is closed")
	// ErrNacked is returned when the broker refuses a message.
	ErrNacked = errors.New("rabbitmq nacked the message")
)

// Config holds RabbitMQ adapter configuration.
type Config struct {
	URL          string
	Exchange     string
	ExchangeType string
	// RoutingKey is used when Publish is called with an empty topic.
	RoutingKey string
	// OperationTimeout bounds a publish including its confirmation.
	OperationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "keyset"
	}
	if c.ExchangeType == "" {
		c.ExchangeType = "topic"
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Second
	}
	return c
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// publisher is the confirm-mode channel the adapter sends through.
type publisher interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

type confirmChannel struct{ *amqp.Channel }

func (c confirmChannel) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil || dc == nil {
		return nil, err
	}
	return dc, nil
}

// Adapter implements eventbus.Producer. Topics are routing keys on one
// durable exchange.
type Adapter struct {
	conn   *amqp.Connection
	pub    publisher
	logger logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

var _ eventbus.Producer = (*Adapter)(nil)

// NewAdapter dials the broker, declares the exchange and puts the publish
// channel in confirm mode.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL is required")
	}
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Nop()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := openConfirmChannel(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Info("rabbitmq adapter initialized", "exchange", cfg.Exchange, "exchange_type", cfg.ExchangeType)
	return &Adapter{conn: conn, pub: confirmChannel{ch}, logger: log, config: cfg}, nil
}

func openConfirmChannel(conn *amqp.Connection, cfg Config) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to put channel in confirm mode: %w", err)
	}
	return ch, nil
}

func (a *Adapter) routingKey(topic string) string {
	if topic != "" {
		return topic
	}
	return a.config.RoutingKey
}

// Publish sends one message and waits for the broker to confirm it.
func (a *Adapter) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	return a.PublishBatch(ctx, topic, []*eventbus.Message{message})
}

// PublishBatch sends every message before waiting on the confirmations, so
// the batch costs one round trip instead of one per message. Sending stops
// at the first failure; messages already sent are still awaited.
func (a *Adapter) PublishBatch(ctx context.Context, topic string, messages []*eventbus.Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errClosed
	}

	key := a.routingKey(topic)
	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationPublish,
		tracing.WithDestination(key), tracing.WithSystem("rabbitmq"))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	pending := make([]confirmation, 0, len(messages))
	var sendErr error
	for i, msg := range messages {
		if msg == nil {
			sendErr = fmt.Errorf("message %d of %d: message is required", i+1, len(messages))
			break
		}
		c, err := a.pub.publish(ctx, a.config.Exchange, key, toPublishing(msg))
		if err != nil {
			sendErr = fmt.Errorf("message %d of %d: failed to publish rabbitmq message: %w", i+1, len(messages), err)
			break
		}
		pending = append(pending, c)
	}

	var errs []error
	if sendErr != nil {
		errs = append(errs, sendErr)
	}
	for i, c := range pending {
		if c == nil {
			continue
		}
		acked, err := c.WaitContext(ctx)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("message %d: waiting for confirm: %w", i+1, err))
		case !acked:
			errs = append(errs, fmt.Errorf("message %d: %w", i+1, ErrNacked))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func toPublishing(msg *eventbus.Message) amqp.Publishing {
	return amqp.Publishing{
		MessageId:     msg.ID,
		CorrelationId: msg.Key,
		ContentType:   msg.ContentType,
		DeliveryMode:  amqp.Persistent,
		Body:          msg.Value,
		Timestamp:     msg.Timestamp,
		Headers:       toAMQPHeaders(msg.Headers),
	}
}

// HealthCheck opens and closes a channel on the live connection.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	a.mu.RLock()
	closed, conn := a.closed, a.conn
	a.mu.RUnlock()
	if closed {
		return errClosed
	}
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}

	done := make(chan error, 1)
	go func() {
		ch, err := conn.Channel()
		if err == nil {
			err = ch.Close()
		}
		done <- err
	}()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("rabbitmq health check failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("rabbitmq health check timeout: %w", ctx.Err())
	}
}

// Close waits for in-flight batches, then closes the channel and connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publish channel: %w", err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

func toAMQPHeaders(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	t := make(amqp.Table, len(headers))
	for k, v := range headers {
		t[k] = v
	}
	return t
}
