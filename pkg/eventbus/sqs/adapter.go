// Package sqs publishes records to AWS SQS queues.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/heartline/keyset/pkg/eventbus"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/tracing"
)

// SendMessageBatch limits.
const (
	maxBatchEntries = 10
	maxBatchBytes   = 256 * 1024
)

// sendAPI is the slice of the SQS client used by the adapter.
type sendAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Adapter implements eventbus.Producer for AWS SQS. A topic is a queue URL;
// an empty topic publishes to the configured queue.
type Adapter struct {
	client sendAPI
	logger logger.Logger
	config Config
	mu     sync.RWMutex
	closed bool
}

var _ eventbus.Producer = (*Adapter)(nil)

// Config holds SQS adapter configuration.
type Config struct {
	Region           string
	QueueURL         string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
}

// NewAdapter creates an SQS producer and checks the configured queue.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		return nil, errors.New("aws region is required")
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 30 * time.Second
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var opts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	adapter := newAdapter(sqs.NewFromConfig(awsCfg, opts...), cfg, log)
	if err := adapter.HealthCheck(context.Background()); err != nil {
		return nil, err
	}
	return adapter, nil
}

func newAdapter(client sendAPI, cfg Config, log logger.Logger) *Adapter {
	return &Adapter{client: client, logger: log, config: cfg}
}

func (a *Adapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// Publish sends one message.
func (a *Adapter) Publish(ctx context.Context, topic string, message *eventbus.Message) error {
	if a.isClosed() {
		return errors.New("sqs adapter is closed")
	}
	if message == nil {
		return errors.New("message is required")
	}

	queueURL := a.resolveQueueURL(topic)
	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationPublish,
		tracing.WithDestination(queueURL), tracing.WithSystem("sqs"))
	defer span.End()

	opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancel()

	in := &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(string(message.Value)),
		MessageAttributes: toSQSAttributes(message.Headers),
	}
	if isFIFO(queueURL) {
		in.MessageGroupId, in.MessageDeduplicationId = fifoIDs(message)
	}
	if _, err := a.client.SendMessage(opCtx, in); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to publish sqs message: %w", err)
	}
	return nil
}

// PublishBatch sends messages in SendMessageBatch calls that respect the
// SQS limits of ten entries and 256 KiB per call. Entries rejected through
// no fault of the sender are resent once; any other rejection fails the
// batch.
func (a *Adapter) PublishBatch(ctx context.Context, topic string, messages []*eventbus.Message) error {
	if a.isClosed() {
		return errors.New("sqs adapter is closed")
	}
	if len(messages) == 0 {
		return nil
	}

	queueURL := a.resolveQueueURL(topic)
	ctx, span := tracing.StartMessagingSpan(ctx, tracing.SpanOperationPublish,
		tracing.WithDestination(queueURL), tracing.WithSystem("sqs"))
	defer span.End()

	fifo := isFIFO(queueURL)
	offset := 0
	for _, chunk := range chunkMessages(messages, maxBatchEntries, maxBatchBytes) {
		entries := make([]types.SendMessageBatchRequestEntry, len(chunk))
		for i, m := range chunk {
			entries[i] = toBatchEntry(strconv.Itoa(offset+i), m, fifo)
		}
		offset += len(chunk)

		if err := a.sendEntries(ctx, queueURL, entries); err != nil {
			tracing.RecordError(span, err)
			return err
		}
	}
	return nil
}

func (a *Adapter) sendEntries(ctx context.Context, queueURL string, entries []types.SendMessageBatchRequestEntry) error {
	for attempt := 0; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, a.config.OperationTimeout)
		out, err := a.client.SendMessageBatch(opCtx, &sqs.SendMessageBatchInput{QueueUrl: aws.String(queueURL), Entries: entries})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to publish sqs batch: %w", err)
		}
		if len(out.Failed) == 0 {
			return nil
		}

		retry, fatal := splitFailures(entries, out.Failed)
		if fatal != nil || attempt >= 1 {
			f := out.Failed[0]
			if fatal != nil {
				f = *fatal
			}
			return fmt.Errorf("sqs rejected %d of %d entries, first %s: %s",
				len(out.Failed), len(entries), aws.ToString(f.Id), aws.ToString(f.Message))
		}
		a.logger.Warn("resending sqs entries", "queue", queueURL, "count", len(retry))
		entries = retry
	}
}

// splitFailures returns the entries worth resending, or the first failure
// caused by the request itself.
func splitFailures(entries []types.SendMessageBatchRequestEntry, failed []types.BatchResultErrorEntry) ([]types.SendMessageBatchRequestEntry, *types.BatchResultErrorEntry) {
	byID := make(map[string]types.SendMessageBatchRequestEntry, len(entries))
	for _, e := range entries {
		byID[aws.ToString(e.Id)] = e
	}
	retry := make([]types.SendMessageBatchRequestEntry, 0, len(failed))
	for i := range failed {
		if failed[i].SenderFault {
			return nil, &failed[i]
		}
		if e, ok := byID[aws.ToString(failed[i].Id)]; ok {
			retry = append(retry, e)
		}
	}
	return retry, nil
}

func toBatchEntry(id string, m *eventbus.Message, fifo bool) types.SendMessageBatchRequestEntry {
	e := types.SendMessageBatchRequestEntry{
		Id:                aws.String(id),
		MessageBody:       aws.String(string(m.Value)),
		MessageAttributes: toSQSAttributes(m.Headers),
	}
	if fifo {
		e.MessageGroupId, e.MessageDeduplicationId = fifoIDs(m)
	}
	return e
}

// chunkMessages splits messages in order into groups of at most maxCount
// entries and maxBytes of body. A single oversized body gets a group of its
// own and is left for SQS to reject.
func chunkMessages(messages []*eventbus.Message, maxCount, maxBytes int) [][]*eventbus.Message {
	var (
		out   [][]*eventbus.Message
		cur   []*eventbus.Message
		bytes int
	)
	for _, m := range messages {
		size := len(m.Value)
		if len(cur) > 0 && (len(cur) == maxCount || bytes+size > maxBytes) {
			out = append(out, cur)
			cur, bytes = nil, 0
		}
		cur = append(cur, m)
		bytes += size
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// HealthCheck reads the configured queue's ARN.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.isClosed() {
		return errors.New("sqs adapter is closed")
	}

	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := a.client.GetQueueAttributes(hcCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(a.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqs health check failed: %w", err)
	}
	return nil
}

// Close marks the adapter closed. The SQS client holds no connections that
// need releasing.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func (a *Adapter) resolveQueueURL(topic string) string {
	if topic != "" {
		return topic
	}
	return a.config.QueueURL
}

func isFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}

// fifoIDs groups by message key so records with one key stay ordered, and
// deduplicates by message id.
func fifoIDs(m *eventbus.Message) (group, dedup *string) {
	groupID := m.Key
	if groupID == "" {
		groupID = "default"
	}
	if m.ID != "" {
		dedup = aws.String(m.ID)
	}
	return aws.String(groupID), dedup
}

func toSQSAttributes(headers map[string]string) map[string]types.MessageAttributeValue {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(headers))
	for k, v := range headers {
		out[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return out
}
