package export

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/heartline/keyset/pkg/pagination"
	"github.com/heartline/keyset/pkg/store/memory"
)

type account struct {
	ID     int64  `json:"id"`
	Region string `json:"region"`
}

func accountField(a account, field string) (any, bool) {
	switch field {
	case "_id":
		return a.ID, true
	case "region":
		return a.Region, true
	}
	return nil, false
}

func accounts(n int) *memory.Collection[account] {
	items := make([]account, n)
	for i := range items {
		region := "eu"
		if i%3 == 0 {
			region = "us"
		}
		items[i] = account{ID: int64(i + 1), Region: region}
	}
	return memory.NewCollection[account]("accounts", accountField, items...)
}

var accountKey = pagination.By("_id", pagination.Asc, func(a account) any { return a.ID })

func accountID(a account) string { return strconv.FormatInt(a.ID, 10) }

// recordingSink keeps every chunk it accepts and fails the chunk with
// sequence number failAt.
type recordingSink struct {
	chunks   []Chunk
	failAt   int
	finished *Summary
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) WriteChunk(_ context.Context, chunk Chunk) error {
	if chunk.Seq == s.failAt {
		return errors.New("sink unavailable")
	}
	chunk.Records = append([]Record(nil), chunk.Records...)
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordingSink) Finish(_ context.Context, summary Summary) error {
	s.finished = &summary
	return nil
}

func (s *recordingSink) ids() []string {
	var out []string
	for _, c := range s.chunks {
		for _, r := range c.Records {
			out = append(out, r.ID)
		}
	}
	return out
}

func (s *recordingSink) seqs() []int {
	out := make([]int, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = c.Seq
	}
	return out
}

func newAccountJob(t *testing.T, store *memory.Collection[account], sink Sink, cps Checkpointer, chunk int) *Job[account] {
	t.Helper()
	job, err := NewJob(JobConfig[account]{
		Collection:  "accounts",
		Store:       store,
		Key:         accountKey,
		ID:          accountID,
		Sink:        sink,
		Checkpoints: cps,
		BatchSize:   2,
		ChunkSize:   chunk,
	})
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	return job
}

func idRange(from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}

func TestJob_RunExportsEveryRecordInChunks(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	cps := NewMemoryCheckpoints()
	job := newAccountJob(t, accounts(7), sink, cps, 3)

	summary, err := job.Run(ctx, RunOptions{RunID: "run-1"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Records != 7 || summary.Chunks != 3 || summary.Resumed {
		t.Errorf("summary = %+v", summary)
	}
	if !reflect.DeepEqual(sink.ids(), idRange(1, 7)) {
		t.Errorf("exported ids = %v", sink.ids())
	}
	if !reflect.DeepEqual(sink.seqs(), []int{1, 2, 3}) {
		t.Errorf("chunk seqs = %v", sink.seqs())
	}
	if sink.finished == nil || sink.finished.RunID != "run-1" {
		t.Errorf("finish not called with run summary: %+v", sink.finished)
	}
	if _, found, _ := cps.LoadCheckpoint(ctx, job.Name()); found {
		t.Error("checkpoint should be cleared after a completed run")
	}
}

func TestJob_RunAppliesFilter(t *testing.T) {
	sink := &recordingSink{}
	job, err := NewJob(JobConfig[account]{
		Collection: "accounts",
		Store:      accounts(9),
		Key:        accountKey,
		ID:         accountID,
		Filter:     pagination.Eq("region", "us"),
		Sink:       sink,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := job.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !reflect.DeepEqual(sink.ids(), []string{"1", "4", "7"}) {
		t.Errorf("exported ids = %v", sink.ids())
	}
}

func TestJob_ResumeAfterSinkFailure(t *testing.T) {
	ctx := context.Background()
	store := accounts(7)
	cps := NewMemoryCheckpoints()

	failing := &recordingSink{failAt: 2}
	first := newAccountJob(t, store, failing, cps, 3)
	summary, err := first.Run(ctx, RunOptions{RunID: "run-a"})
	if err == nil || !strings.Contains(err.Error(), "sink unavailable") {
		t.Fatalf("expected sink error, got %v", err)
	}
	if summary.Records != 3 || summary.Chunks != 1 {
		t.Errorf("interrupted summary = %+v", summary)
	}
	if failing.finished != nil {
		t.Error("finish must not run on failure")
	}

	data, found, _ := cps.LoadCheckpoint(ctx, first.Name())
	if !found {
		t.Fatal("expected a checkpoint after the first committed chunk")
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		t.Fatal(err)
	}
	if cp.RunID != "run-a" || cp.Records != 3 || cp.Chunks != 1 {
		t.Errorf("checkpoint = %+v", cp)
	}

	healthy := &recordingSink{}
	second := newAccountJob(t, store, healthy, cps, 3)
	summary, err = second.Run(ctx, RunOptions{Resume: true, RunID: "ignored"})
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if !summary.Resumed || summary.RunID != "run-a" || summary.Records != 7 || summary.Chunks != 3 {
		t.Errorf("resumed summary = %+v", summary)
	}
	if !reflect.DeepEqual(healthy.ids(), idRange(4, 7)) {
		t.Errorf("resumed ids = %v", healthy.ids())
	}
	if !reflect.DeepEqual(healthy.seqs(), []int{2, 3}) {
		t.Errorf("resumed seqs = %v", healthy.seqs())
	}
}

func TestJob_ResumeWithoutCheckpointStartsFresh(t *testing.T) {
	sink := &recordingSink{}
	job := newAccountJob(t, accounts(4), sink, nil, 10)

	summary, err := job.Run(context.Background(), RunOptions{Resume: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Resumed || summary.Records != 4 || summary.RunID == "" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestJob_RejectsCheckpointForOtherKey(t *testing.T) {
	ctx := context.Background()
	cps := NewMemoryCheckpoints()
	codec := pagination.NewCodec()
	data, err := encodeCheckpoint(codec, "createdAt", int64(5), Checkpoint{RunID: "old"})
	if err != nil {
		t.Fatal(err)
	}
	job := newAccountJob(t, accounts(3), &recordingSink{}, cps, 2)
	if err := cps.SaveCheckpoint(ctx, job.Name(), data); err != nil {
		t.Fatal(err)
	}

	if _, err := job.Run(ctx, RunOptions{Resume: true}); err == nil || !strings.Contains(err.Error(), "createdAt") {
		t.Fatalf("expected key mismatch error, got %v", err)
	}
}

func TestJob_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := newAccountJob(t, accounts(3), &recordingSink{}, nil, 2)
	if _, err := job.Run(ctx, RunOptions{}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestJob_Throttled(t *testing.T) {
	sink := &recordingSink{}
	job, err := NewJob(JobConfig[account]{
		Collection:       "accounts",
		Store:            accounts(6),
		Key:              accountKey,
		ID:               accountID,
		Sink:             sink,
		ChunkSize:        2,
		RecordsPerSecond: 1e6,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := job.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.chunks) != 3 {
		t.Errorf("chunks = %d, want 3", len(sink.chunks))
	}
}

func TestNewJob_Validation(t *testing.T) {
	base := JobConfig[account]{
		Collection: "accounts",
		Store:      accounts(1),
		Key:        accountKey,
		ID:         accountID,
		Sink:       &recordingSink{},
	}
	tests := []struct {
		name   string
		mutate func(*JobConfig[account])
	}{
		{"no collection", func(c *JobConfig[account]) { c.Collection = "" }},
		{"no store", func(c *JobConfig[account]) { c.Store = nil }},
		{"no sink", func(c *JobConfig[account]) { c.Sink = nil }},
		{"no id", func(c *JobConfig[account]) { c.ID = nil }},
		{"no key accessor", func(c *JobConfig[account]) { c.Key = pagination.SortField[account]{Name: "_id"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewJob(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	job, err := NewJob(base)
	if err != nil {
		t.Fatal(err)
	}
	if job.Name() != "export:accounts" {
		t.Errorf("default name = %s", job.Name())
	}
}

// Property 1: Export Completeness
//
// For any collection size and chunk size, a run delivers every record
// exactly once, in key order, in ceil(n/chunk) chunks.
func TestProperty_ExportCompleteness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every record exported once in order", prop.ForAll(
		func(n, chunk int) bool {
			sink := &recordingSink{}
			job, err := NewJob(JobConfig[account]{
				Collection: "accounts",
				Store:      accounts(n),
				Key:        accountKey,
				ID:         accountID,
				Sink:       sink,
				BatchSize:  3,
				ChunkSize:  chunk,
			})
			if err != nil {
				return false
			}
			summary, err := job.Run(context.Background(), RunOptions{})
			if err != nil {
				return false
			}
			wantChunks := (n + chunk - 1) / chunk
			ids := sink.ids()
			if n == 0 {
				return len(ids) == 0 && summary.Chunks == 0
			}
			return reflect.DeepEqual(ids, idRange(1, n)) && summary.Chunks == wantChunks && summary.Records == int64(n)
		},
		gen.IntRange(0, 60),
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}
