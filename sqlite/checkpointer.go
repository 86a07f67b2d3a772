// Package sqlite provides a SQLite-backed checkpoint store for single-node
// deployments that outgrow the file store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/docflow-ai/docflow"
)

// CheckpointStore persists checkpoints in a SQLite database. The primary key
// on (correlation_id, sequence) makes the append-only contract a constraint
// rather than a convention.
type CheckpointStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and runs the migration.
func Open(path string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
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
        state JSON NOT NULL,
        created_at TEXT NOT NULL,
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
    ) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		checkpoint.CorrelationID,
		checkpoint.Sequence,
		string(checkpoint.Stage),
		string(checkpoint.Reason),
		string(stateJSON),
		checkpoint.CreatedAt.UTC().Format(time.RFC3339Nano),
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
        WHERE correlation_id = ?
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
        WHERE correlation_id = ?
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
		`DELETE FROM checkpoints WHERE correlation_id = ?`, correlationID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

func scanCheckpoint(scan func(...any) error) (*docflow.Checkpoint, error) {
	var (
		correlationID string
		sequence      int
		stage         string
		reason        string
		stateJSON     string
		createdAt     string
	)
	if err := scan(&correlationID, &sequence, &stage, &reason, &stateJSON, &createdAt); err != nil {
		return nil, err
	}
	var state docflow.WorkflowState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	return &docflow.Checkpoint{
		CorrelationID: correlationID,
		Sequence:      sequence,
		Stage:         docflow.Stage(stage),
		Reason:        docflow.CheckpointReason(reason),
		State:         &state,
		CreatedAt:     parseTime(createdAt),
	}, nil
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
