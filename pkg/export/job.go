// Package export streams whole collections into sinks in checkpointed
// chunks. A failed run can be resumed from the last committed chunk.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/pagination"
)

// DefaultChunkSize is used when JobConfig.ChunkSize is not set.
const DefaultChunkSize = 500

// JobConfig configures an export of one collection.
type JobConfig[T any] struct {
	// Name identifies the job for checkpoints. Defaults to "export:<Collection>".
	Name       string
	Collection string
	Store      pagination.Streamer[T]
	// Key orders the scan. It must be ascending and immutable.
	Key    pagination.SortField[T]
	Filter pagination.Predicate
	Select []string
	// ID derives the record id used as message key and document id.
	ID func(T) string

	Sink             Sink
	Checkpoints      Checkpointer
	Codec            *pagination.Codec
	BatchSize        int
	ChunkSize        int
	RecordsPerSecond float64
	Logger           logger.Logger
}

// RunOptions controls a single run.
type RunOptions struct {
	// Resume continues from the stored checkpoint, if any.
	Resume bool
	// RunID names a fresh run. Defaults to a random UUID.
	RunID string
}

// Job exports a collection to a sink.
type Job[T any] struct {
	cfg     JobConfig[T]
	limiter *rate.Limiter
	log     logger.Logger
}

// NewJob validates cfg and fills defaults.
func NewJob[T any](cfg JobConfig[T]) (*Job[T], error) {
	if cfg.Collection == "" {
		return nil, errors.New("collection is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if cfg.ID == nil {
		return nil, errors.New("id function cannot be nil")
	}
	if cfg.Key.Accessor == nil {
		return nil, fmt.Errorf("%w: export key has no accessor", pagination.ErrInvalidSortSpec)
	}
	if cfg.Name == "" {
		cfg.Name = "export:" + cfg.Collection
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Codec == nil {
		cfg.Codec = pagination.NewCodec()
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = NewMemoryCheckpoints()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	j := &Job[T]{cfg: cfg, log: log.With("job", cfg.Name, "collection", cfg.Collection, "sink", cfg.Sink.Name())}
	if cfg.RecordsPerSecond > 0 {
		j.limiter = rate.NewLimiter(rate.Limit(cfg.RecordsPerSecond), cfg.ChunkSize)
	}
	return j, nil
}

// Name returns the checkpoint name of the job.
func (j *Job[T]) Name() string {
	return j.cfg.Name
}

// Run streams the collection into the sink. After each committed chunk the
// last key is checkpointed; on success the checkpoint is removed and the
// sink finished. The stream is closed on every path.
func (j *Job[T]) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	summary := Summary{
		RunID:      opts.RunID,
		Collection: j.cfg.Collection,
		Sink:       j.cfg.Sink.Name(),
		StartedAt:  time.Now().UTC(),
	}
	if summary.RunID == "" {
		summary.RunID = uuid.NewString()
	}

	var after any
	if opts.Resume {
		cp, key, found, err := j.loadCheckpoint(ctx)
		if err != nil {
			return summary, err
		}
		if found {
			after = key
			summary.RunID = cp.RunID
			summary.Records = cp.Records
			summary.Chunks = cp.Chunks
			summary.Resumed = true
			j.log.Info("resuming export", "run_id", cp.RunID, "records", cp.Records, "chunks", cp.Chunks)
		}
	}

	stream, err := pagination.OpenBatchStream(ctx, j.cfg.Store, pagination.StreamSpec[T]{
		Name:      j.cfg.Collection,
		Filter:    j.cfg.Filter,
		Key:       j.cfg.Key,
		BatchSize: j.cfg.BatchSize,
		Select:    j.cfg.Select,
		After:     after,
	})
	if err != nil {
		return summary, err
	}
	defer func() {
		if cerr := stream.Close(context.WithoutCancel(ctx)); cerr != nil {
			j.log.Warn("failed to close export stream", "error", cerr)
		}
	}()

	log := j.log.With("run_id", summary.RunID)
	log.Info("export started", "resume", summary.Resumed)

	records := make([]Record, 0, j.cfg.ChunkSize)
	for stream.Next(ctx) {
		item := stream.Item()
		records = append(records, Record{ID: j.cfg.ID(item), Value: item})
		if len(records) == j.cfg.ChunkSize {
			if err := j.commit(ctx, &summary, records, stream.LastKey()); err != nil {
				log.Error("export chunk failed", "chunk", summary.Chunks+1, "error", err)
				return j.finishSummary(summary), err
			}
			records = records[:0]
		}
	}
	if err := stream.Err(); err != nil {
		log.Error("export stream failed", "records", summary.Records, "error", err)
		return j.finishSummary(summary), err
	}
	if len(records) > 0 {
		if err := j.commit(ctx, &summary, records, stream.LastKey()); err != nil {
			log.Error("export chunk failed", "chunk", summary.Chunks+1, "error", err)
			return j.finishSummary(summary), err
		}
	}

	summary = j.finishSummary(summary)
	if err := j.cfg.Sink.Finish(ctx, summary); err != nil {
		return summary, fmt.Errorf("failed to finish %s sink: %w", j.cfg.Sink.Name(), err)
	}
	if err := j.cfg.Checkpoints.DeleteCheckpoint(ctx, j.cfg.Name); err != nil {
		log.Warn("failed to clear export checkpoint", "error", err)
	}
	log.Info("export completed", "records", summary.Records, "chunks", summary.Chunks, "duration", summary.Duration)
	return summary, nil
}

func (j *Job[T]) finishSummary(s Summary) Summary {
	s.Duration = time.Since(s.StartedAt)
	return s
}

// commit throttles, writes one chunk and checkpoints past it.
func (j *Job[T]) commit(ctx context.Context, summary *Summary, records []Record, lastKey any) error {
	if j.limiter != nil {
		if err := j.limiter.WaitN(ctx, len(records)); err != nil {
			return err
		}
	}
	chunk := Chunk{
		RunID:      summary.RunID,
		Collection: j.cfg.Collection,
		Seq:        summary.Chunks + 1,
		Records:    records,
	}
	err := j.cfg.Sink.WriteChunk(ctx, chunk)
	metrics.RecordExportChunk(j.cfg.Collection, j.cfg.Sink.Name(), len(records), err)
	if err != nil {
		return err
	}
	summary.Chunks++
	summary.Records += int64(len(records))

	data, err := encodeCheckpoint(j.cfg.Codec, j.cfg.Key.Name, lastKey, Checkpoint{
		RunID:     summary.RunID,
		Records:   summary.Records,
		Chunks:    summary.Chunks,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := j.cfg.Checkpoints.SaveCheckpoint(ctx, j.cfg.Name, data); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (j *Job[T]) loadCheckpoint(ctx context.Context) (Checkpoint, any, bool, error) {
	data, found, err := j.cfg.Checkpoints.LoadCheckpoint(ctx, j.cfg.Name)
	if err != nil {
		return Checkpoint{}, nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !found {
		return Checkpoint{}, nil, false, nil
	}
	cp, key, err := decodeCheckpoint(j.cfg.Codec, j.cfg.Key.Name, data)
	if err != nil {
		return Checkpoint{}, nil, false, err
	}
	return cp, key, true, nil
}
