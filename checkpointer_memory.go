package docflow

import (
	"context"
	"sync"
)

// MemoryCheckpointStore is an in-memory CheckpointStore used by tests and by
// single-process deployments that accept losing progress on restart.
type MemoryCheckpointStore struct {
	mutex       sync.RWMutex
	checkpoints map[string][]*Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: map[string][]*Checkpoint{}}
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, checkpoint *Checkpoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Snapshot the state so later engine mutations don't reach back into
	// stored history.
	cp := *checkpoint
	if checkpoint.State != nil {
		cp.State = checkpoint.State.Copy()
	}
	s.checkpoints[checkpoint.CorrelationID] = append(s.checkpoints[checkpoint.CorrelationID], &cp)
	return nil
}

func (s *MemoryCheckpointStore) LoadLatest(ctx context.Context, correlationID string) (*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	history := s.checkpoints[correlationID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *MemoryCheckpointStore) LoadHistory(ctx context.Context, correlationID string) ([]*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	history := s.checkpoints[correlationID]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*Checkpoint, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryCheckpointStore) Delete(ctx context.Context, correlationID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.checkpoints, correlationID)
	return nil
}
