package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/heartline/keyset/pkg/pagination"
)

// Checkpointer persists raw checkpoint documents by job name. The redis
// adapter satisfies it; MemoryCheckpoints serves tests and one-shot runs.
type Checkpointer interface {
	LoadCheckpoint(ctx context.Context, job string) ([]byte, bool, error)
	SaveCheckpoint(ctx context.Context, job string, data []byte) error
	DeleteCheckpoint(ctx context.Context, job string) error
}

// Checkpoint records how far a run got. Cursor is the last committed stream
// key, encoded with the job's cursor codec.
type Checkpoint struct {
	RunID     string    `json:"runId"`
	Cursor    string    `json:"cursor"`
	Records   int64     `json:"records"`
	Chunks    int       `json:"chunks"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func encodeCheckpoint(codec *pagination.Codec, field string, key any, cp Checkpoint) ([]byte, error) {
	token, err := codec.EncodePosition(pagination.Position{{Field: field, Value: key}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint key: %w", err)
	}
	cp.Cursor = token
	return json.Marshal(cp)
}

// decodeCheckpoint returns the checkpoint and the resume key it carries.
func decodeCheckpoint(codec *pagination.Codec, field string, data []byte) (Checkpoint, any, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	pos, ok := codec.Decode(cp.Cursor)
	if !ok {
		return Checkpoint{}, nil, fmt.Errorf("checkpoint cursor for run %s is invalid", cp.RunID)
	}
	key, ok := pos.Get(field)
	if !ok || len(pos) != 1 {
		return Checkpoint{}, nil, fmt.Errorf("checkpoint for run %s was recorded for fields %v, not %q", cp.RunID, pos.Fields(), field)
	}
	return cp, key, nil
}

// MemoryCheckpoints keeps checkpoints in process memory.
type MemoryCheckpoints struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryCheckpoints creates an empty store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{data: make(map[string][]byte)}
}

func (m *MemoryCheckpoints) LoadCheckpoint(_ context.Context, job string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[job]
	return data, ok, nil
}

func (m *MemoryCheckpoints) SaveCheckpoint(_ context.Context, job string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[job] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryCheckpoints) DeleteCheckpoint(_ context.Context, job string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, job)
	return nil
}
