package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/heartline/keyset/pkg/observability/metrics"
)

// DefaultBatchSize is the store fetch size used by batch streams when none is set.
const DefaultBatchSize = 100

// StreamQuery asks a store for a server-side cursor over every record
// matching Filter, ascending on Sort.
type StreamQuery struct {
	Filter    Predicate
	Sort      SortKey
	BatchSize int
	Select    []string
}

// RecordCursor is a store-native cursor that loads BatchSize records per
// round trip.
type RecordCursor[T any] interface {
	Next(ctx context.Context) bool
	Current() T
	Err() error
	Close(ctx context.Context) error
}

// Streamer opens server-side cursors.
type Streamer[T any] interface {
	Stream(ctx context.Context, q StreamQuery) (RecordCursor[T], error)
}

// StreamSpec describes a batch scan. Key must be immutable and strictly
// increasing in insertion order (an auto-increment id or an ObjectID).
type StreamSpec[T any] struct {
	Name      string
	Filter    Predicate
	Key       SortField[T]
	BatchSize int
	Select    []string
	// After resumes the scan strictly past a previously recorded LastKey.
	After any
}

// BatchStream iterates a collection record by record while the store loads
// it in batches. A stream must be closed; All closes it on return.
type BatchStream[T any] struct {
	name    string
	cursor  RecordCursor[T]
	key     SortField[T]
	item    T
	lastKey any
	count   int64
	err     error
	closed  bool
}

// OpenBatchStream opens a stream ordered ascending on spec.Key.
func OpenBatchStream[T any](ctx context.Context, store Streamer[T], spec StreamSpec[T]) (*BatchStream[T], error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if err := validateFieldName(spec.Key.Name); err != nil {
		return nil, err
	}
	if spec.Key.Accessor == nil {
		return nil, fmt.Errorf("%w: stream key %q has no accessor", ErrInvalidSortSpec, spec.Key.Name)
	}
	if spec.Key.Direction != Asc {
		return nil, fmt.Errorf("%w: stream key %q must be ascending", ErrInvalidSortSpec, spec.Key.Name)
	}
	batch := spec.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	name := spec.Name
	if name == "" {
		name = "default"
	}

	filter := spec.Filter
	if spec.After != nil {
		filter = AllOf(filter, Gt(spec.Key.Name, spec.After))
	}

	cur, err := store.Stream(ctx, StreamQuery{
		Filter:    filter,
		Sort:      spec.Key.Key(),
		BatchSize: batch,
		Select:    spec.Select,
	})
	if err != nil {
		return nil, storeError("stream", err)
	}
	return &BatchStream[T]{name: name, cursor: cur, key: spec.Key, lastKey: spec.After}, nil
}

// Next advances to the next record. It returns false at the end of the scan,
// on error, or after Close; check Err to tell them apart.
func (s *BatchStream[T]) Next(ctx context.Context) bool {
	if s.closed || s.err != nil {
		return false
	}
	if !s.cursor.Next(ctx) {
		if err := s.cursor.Err(); err != nil {
			s.err = storeError("stream", err)
		}
		return false
	}
	item := s.cursor.Current()
	key, err := s.key.Accessor.Value(item)
	if err != nil {
		s.err = fmt.Errorf("failed to read stream key %q: %w", s.key.Name, err)
		return false
	}
	s.item = item
	s.lastKey = key
	s.count++
	metrics.RecordStreamedRecord(s.name)
	return true
}

// Item returns the current record.
func (s *BatchStream[T]) Item() T {
	return s.item
}

// LastKey returns the key of the last delivered record, or the resume key
// the stream was opened with. Pass it as StreamSpec.After to resume.
func (s *BatchStream[T]) LastKey() any {
	return s.lastKey
}

// Count returns the number of records delivered so far.
func (s *BatchStream[T]) Count() int64 {
	return s.count
}

// Err returns the first error met while iterating.
func (s *BatchStream[T]) Err() error {
	return s.err
}

// Close releases the server cursor. Calling it more than once is a no-op.
func (s *BatchStream[T]) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.cursor.Close(ctx); err != nil {
		return storeError("close", err)
	}
	return nil
}

// All yields every remaining record, then any iteration error. The stream is
// closed when the loop ends, including on early break.
func (s *BatchStream[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer s.Close(context.WithoutCancel(ctx))
		if s.closed {
			var zero T
			yield(zero, ErrStreamClosed)
			return
		}
		for s.Next(ctx) {
			if !yield(s.item, nil) {
				return
			}
		}
		if s.err != nil {
			var zero T
			yield(zero, s.err)
		}
	}
}
