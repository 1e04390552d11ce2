package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heartline/keyset/pkg/eventbus"
)

// Record is one exported item with its stable identifier.
type Record struct {
	ID    string
	Value any
}

// Chunk is a batch of records committed to a sink in one call. Seq starts
// at 1 and keeps counting across resumed runs.
type Chunk struct {
	RunID      string
	Collection string
	Seq        int
	Records    []Record
}

// Summary describes a finished or interrupted run.
type Summary struct {
	RunID      string        `json:"runId"`
	Collection string        `json:"collection"`
	Sink       string        `json:"sink"`
	Records    int64         `json:"records"`
	Chunks     int           `json:"chunks"`
	Resumed    bool          `json:"resumed"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
}

// Sink receives committed chunks. WriteChunk must be complete when it
// returns nil: the job checkpoints right after.
type Sink interface {
	Name() string
	WriteChunk(ctx context.Context, chunk Chunk) error
	Finish(ctx context.Context, summary Summary) error
}

func encodeNDJSON(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r.Value); err != nil {
			return nil, fmt.Errorf("failed to encode record %s: %w", r.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// ObjectUploader stores objects by key. The s3 adapter satisfies it.
type ObjectUploader interface {
	UploadBytes(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]string) (string, error)
}

// ObjectSink writes each chunk as an NDJSON object under
// prefix/collection/runID/ and a manifest once the run completes.
type ObjectSink struct {
	uploader ObjectUploader
	prefix   string
}

// NewObjectSink creates an object sink.
func NewObjectSink(uploader ObjectUploader, prefix string) *ObjectSink {
	return &ObjectSink{uploader: uploader, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectSink) Name() string { return "object" }

func (s *ObjectSink) runDir(collection, runID string) string {
	return path.Join(s.prefix, collection, runID)
}

// PartKey returns the object key of chunk seq.
func (s *ObjectSink) PartKey(collection, runID string, seq int) string {
	return path.Join(s.runDir(collection, runID), fmt.Sprintf("part-%05d.ndjson", seq))
}

func (s *ObjectSink) WriteChunk(ctx context.Context, chunk Chunk) error {
	payload, err := encodeNDJSON(chunk.Records)
	if err != nil {
		return err
	}
	key := s.PartKey(chunk.Collection, chunk.RunID, chunk.Seq)
	_, err = s.uploader.UploadBytes(ctx, key, payload, "application/x-ndjson", map[string]string{
		"run-id":  chunk.RunID,
		"records": fmt.Sprint(len(chunk.Records)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

type manifest struct {
	Summary
	Parts       []string  `json:"parts"`
	CompletedAt time.Time `json:"completedAt"`
}

func (s *ObjectSink) Finish(ctx context.Context, summary Summary) error {
	parts := make([]string, summary.Chunks)
	for i := range parts {
		parts[i] = s.PartKey(summary.Collection, summary.RunID, i+1)
	}
	payload, err := json.MarshalIndent(manifest{Summary: summary, Parts: parts, CompletedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	key := path.Join(s.runDir(summary.Collection, summary.RunID), "manifest.json")
	if _, err := s.uploader.UploadBytes(ctx, key, payload, "application/json", nil); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// TopicSink publishes every record as a message keyed by its id, so
// consumers rebuilding a projection see updates of one record in order.
type TopicSink struct {
	producer   eventbus.Producer
	serializer eventbus.Serializer
	topic      string
}

// NewTopicSink creates a topic sink.
func NewTopicSink(producer eventbus.Producer, serializer eventbus.Serializer, topic string) *TopicSink {
	return &TopicSink{producer: producer, serializer: serializer, topic: topic}
}

func (s *TopicSink) Name() string { return "topic" }

func (s *TopicSink) WriteChunk(ctx context.Context, chunk Chunk) error {
	messages := make([]*eventbus.Message, 0, len(chunk.Records))
	for _, r := range chunk.Records {
		msg, err := eventbus.NewMessage(s.serializer, uuid.NewString(), r.ID, r.Value)
		if err != nil {
			return fmt.Errorf("failed to build message for %s: %w", r.ID, err)
		}
		msg.Headers["run-id"] = chunk.RunID
		messages = append(messages, msg)
	}
	if err := s.producer.PublishBatch(ctx, s.topic, messages); err != nil {
		return fmt.Errorf("failed to publish chunk %d to %s: %w", chunk.Seq, s.topic, err)
	}
	return nil
}

func (s *TopicSink) Finish(context.Context, Summary) error { return nil }

// DocumentIndexer writes documents by id. The search adapter satisfies it.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document any) error
}

// IndexSink copies records into a search index.
type IndexSink struct {
	indexer DocumentIndexer
	index   string
}

// NewIndexSink creates an index sink.
func NewIndexSink(indexer DocumentIndexer, index string) *IndexSink {
	return &IndexSink{indexer: indexer, index: index}
}

func (s *IndexSink) Name() string { return "index" }

func (s *IndexSink) WriteChunk(ctx context.Context, chunk Chunk) error {
	for _, r := range chunk.Records {
		if err := s.indexer.IndexDocument(ctx, s.index, r.ID, r.Value); err != nil {
			return fmt.Errorf("failed to index %s into %s: %w", r.ID, s.index, err)
		}
	}
	return nil
}

func (s *IndexSink) Finish(context.Context, Summary) error { return nil }

// WriterSink writes NDJSON to w, typically stdout.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a writer sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Name() string { return "stdout" }

func (s *WriterSink) WriteChunk(_ context.Context, chunk Chunk) error {
	payload, err := encodeNDJSON(chunk.Records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(payload)
	return err
}

func (s *WriterSink) Finish(context.Context, Summary) error { return nil }

// Expand substitutes {collection} in a topic or index template.
func Expand(template, collection string) string {
	return strings.ReplaceAll(template, "{collection}", collection)
}
