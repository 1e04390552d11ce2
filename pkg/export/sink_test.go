package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/heartline/keyset/pkg/eventbus"
)

type upload struct {
	key         string
	payload     string
	contentType string
	metadata    map[string]string
}

type fakeUploader struct {
	uploads []upload
	err     error
}

func (f *fakeUploader) UploadBytes(_ context.Context, key string, payload []byte, contentType string, metadata map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, upload{key: key, payload: string(payload), contentType: contentType, metadata: metadata})
	return "s3://bucket/" + key, nil
}

func sampleChunk() Chunk {
	return Chunk{
		RunID:      "run-7",
		Collection: "accounts",
		Seq:        2,
		Records: []Record{
			{ID: "1", Value: account{ID: 1, Region: "eu"}},
			{ID: "2", Value: account{ID: 2, Region: "us"}},
		},
	}
}

func TestObjectSink_WritesNDJSONPartsAndManifest(t *testing.T) {
	ctx := context.Background()
	up := &fakeUploader{}
	sink := NewObjectSink(up, "/exports/")

	if err := sink.WriteChunk(ctx, sampleChunk()); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	got := up.uploads[0]
	if got.key != "exports/accounts/run-7/part-00002.ndjson" {
		t.Errorf("key = %s", got.key)
	}
	wantPayload := "{\"id\":1,\"region\":\"eu\"}\n{\"id\":2,\"region\":\"us\"}\n"
	if got.payload != wantPayload {
		t.Errorf("payload = %q", got.payload)
	}
	if got.contentType != "application/x-ndjson" || got.metadata["records"] != "2" || got.metadata["run-id"] != "run-7" {
		t.Errorf("upload = %+v", got)
	}

	if err := sink.Finish(ctx, Summary{RunID: "run-7", Collection: "accounts", Records: 4, Chunks: 2}); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	man := up.uploads[1]
	if man.key != "exports/accounts/run-7/manifest.json" {
		t.Errorf("manifest key = %s", man.key)
	}
	var decoded struct {
		Records int64    `json:"records"`
		Parts   []string `json:"parts"`
	}
	if err := json.Unmarshal([]byte(man.payload), &decoded); err != nil {
		t.Fatal(err)
	}
	wantParts := []string{"exports/accounts/run-7/part-00001.ndjson", "exports/accounts/run-7/part-00002.ndjson"}
	if decoded.Records != 4 || !reflect.DeepEqual(decoded.Parts, wantParts) {
		t.Errorf("manifest = %+v", decoded)
	}
}

func TestObjectSink_UploadError(t *testing.T) {
	sink := NewObjectSink(&fakeUploader{err: errors.New("denied")}, "")
	err := sink.WriteChunk(context.Background(), sampleChunk())
	if err == nil || !strings.Contains(err.Error(), "accounts/run-7/part-00002.ndjson") {
		t.Fatalf("expected upload error naming the key, got %v", err)
	}
}

type fakeProducer struct {
	topic    string
	messages []*eventbus.Message
	err      error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, m *eventbus.Message) error {
	return f.PublishBatch(ctx, topic, []*eventbus.Message{m})
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, ms []*eventbus.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.messages = append(f.messages, ms...)
	return nil
}

func (f *fakeProducer) HealthCheck(context.Context) error { return nil }
func (f *fakeProducer) Close() error                      { return nil }

func TestTopicSink_PublishesKeyedMessages(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewTopicSink(producer, eventbus.NewJSONSerializer(), Expand("{collection}.reindex", "accounts"))

	if err := sink.WriteChunk(context.Background(), sampleChunk()); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if producer.topic != "accounts.reindex" {
		t.Errorf("topic = %s", producer.topic)
	}
	if len(producer.messages) != 2 {
		t.Fatalf("published %d messages", len(producer.messages))
	}
	m := producer.messages[1]
	if m.Key != "2" || m.ID == "" || m.Headers["run-id"] != "run-7" || m.Headers["content-type"] != "application/json" {
		t.Errorf("message = %+v", m)
	}
	if string(m.Value) != `{"id":2,"region":"us"}` {
		t.Errorf("value = %s", m.Value)
	}
	if producer.messages[0].ID == m.ID {
		t.Error("message ids must be unique")
	}
}

func TestTopicSink_PublishError(t *testing.T) {
	sink := NewTopicSink(&fakeProducer{err: errors.New("broker down")}, eventbus.NewJSONSerializer(), "t")
	if err := sink.WriteChunk(context.Background(), sampleChunk()); err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

type fakeIndexer struct {
	docs map[string]any
	err  error
}

func (f *fakeIndexer) IndexDocument(_ context.Context, index, id string, doc any) error {
	if f.err != nil {
		return f.err
	}
	f.docs[index+"/"+id] = doc
	return nil
}

func TestIndexSink(t *testing.T) {
	idx := &fakeIndexer{docs: map[string]any{}}
	sink := NewIndexSink(idx, Expand("{collection}-v2", "accounts"))
	if err := sink.WriteChunk(context.Background(), sampleChunk()); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if got := idx.docs["accounts-v2/2"]; got != (account{ID: 2, Region: "us"}) {
		t.Errorf("indexed doc = %v", got)
	}

	failing := NewIndexSink(&fakeIndexer{err: errors.New("mapping conflict")}, "accounts")
	if err := failing.WriteChunk(context.Background(), sampleChunk()); err == nil {
		t.Fatal("expected index error")
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	if err := sink.WriteChunk(context.Background(), sampleChunk()); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || lines[0] != `{"id":1,"region":"eu"}` {
		t.Errorf("output = %q", buf.String())
	}
}

func TestJob_WithObjectSink(t *testing.T) {
	up := &fakeUploader{}
	job := newAccountJob(t, accounts(5), NewObjectSink(up, "exports"), nil, 2)
	summary, err := job.Run(context.Background(), RunOptions{RunID: "r1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var keys []string
	for _, u := range up.uploads {
		keys = append(keys, u.key)
	}
	want := []string{
		"exports/accounts/r1/part-00001.ndjson",
		"exports/accounts/r1/part-00002.ndjson",
		"exports/accounts/r1/part-00003.ndjson",
		"exports/accounts/r1/manifest.json",
	}
	if !reflect.DeepEqual(keys, want) || summary.Sink != "object" {
		t.Errorf("uploads = %v, summary = %+v", keys, summary)
	}
}
