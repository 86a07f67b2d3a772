// Package postgres provides a PostgreSQL-backed checkpoint store for
// multi-node deployments.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/docflow-ai/docflow"
)

// CheckpointStore persists checkpoints in PostgreSQL. The composite primary
// key makes duplicate sequences an insert error, so an append-only violation
// surfaces as a checkpoint write failure rather than silent corruption.
type CheckpointStore struct {
	db *sql.DB
}

// Open connects with the given DSN and runs the migration.
func Open(dsn string) (*CheckpointStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return New(db)
}

// New wraps an existing database handle and runs the migration.
func New(db *sql.DB) (*CheckpointStore, error) {
	s := &CheckpointStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CheckpointStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS checkpoints (
        correlation_id TEXT NOT NULL,
        sequence INTEGER NOT NULL,
        stage TEXT NOT NULL,
        reason TEXT NOT NULL,
        state JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (correlation_id, sequence)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

func (s *CheckpointStore) Save(ctx context.Context, checkpoint *docflow.Checkpoint) error {
	stateJSON, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}
	query := `INSERT INTO checkpoints (
        correlation_id, sequence, stage, reason, state, created_at
    ) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.db.ExecContext(ctx, query,
		checkpoint.CorrelationID,
		checkpoint.Sequence,
		string(checkpoint.Stage),
		string(checkpoint.Reason),
		stateJSON,
		checkpoint.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) LoadLatest(ctx context.Context, correlationID string) (*docflow.Checkpoint, error) {
	query := `
        SELECT correlation_id, sequence, stage, reason, state, created_at
        FROM checkpoints
        WHERE correlation_id = $1
        ORDER BY sequence DESC
        LIMIT 1
    `
	row := s.db.QueryRowContext(ctx, query, correlationID)
	checkpoint, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, docflow.ErrNotFound
	}
	return checkpoint, err
}

func (s *CheckpointStore) LoadHistory(ctx context.Context, correlationID string) ([]*docflow.Checkpoint, error) {
	query := `
        SELECT correlation_id, sequence, stage, reason, state, created_at
        FROM checkpoints
        WHERE correlation_id = $1
        ORDER BY sequence ASC
    `
	rows, err := s.db.QueryContext(ctx, query, correlationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var checkpoints []*docflow.Checkpoint
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, docflow.ErrNotFound
	}
	return checkpoints, nil
}

func (s *CheckpointStore) Delete(ctx context.Context, correlationID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

func scanCheckpoint(scan func(...any) error) (*docflow.Checkpoint, error) {
	var checkpoint docflow.Checkpoint
	var stage, reason string
	var stateJSON []byte
	if err := scan(&checkpoint.CorrelationID, &checkpoint.Sequence, &stage, &reason, &stateJSON, &checkpoint.CreatedAt); err != nil {
		return nil, err
	}
	var state docflow.WorkflowState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	checkpoint.Stage = docflow.Stage(stage)
	checkpoint.Reason = docflow.CheckpointReason(reason)
	checkpoint.State = &state
	return &checkpoint, nil
}
