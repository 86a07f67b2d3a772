package docflow

import (
	"context"
	"errors"
)

// ErrNotFound is returned by LoadLatest and LoadHistory when no checkpoint
// exists for a correlation id.
var ErrNotFound = errors.New("checkpoint not found")

// CheckpointStore persists ordered WorkflowState snapshots. Save is
// append-only: a prior checkpoint is never overwritten. After an acknowledged
// Save, LoadLatest must return a state at least as advanced as the one saved,
// for the single writer of a given correlation id.
//
// Deletion exists for retention policies and is owned by the collaborator
// operating the store, not by the engine.
type CheckpointStore interface {
	// Save appends a checkpoint. Implementations assign no meaning to the
	// sequence beyond ordering; the engine provides it monotonically.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// LoadLatest returns the most recent checkpoint for a correlation id,
	// or ErrNotFound.
	LoadLatest(ctx context.Context, correlationID string) (*Checkpoint, error)

	// LoadHistory returns all checkpoints for a correlation id in creation
	// order, or ErrNotFound when none exist.
	LoadHistory(ctx context.Context, correlationID string) ([]*Checkpoint, error)

	// Delete removes all checkpoint data for a correlation id.
	Delete(ctx context.Context, correlationID string) error
}
