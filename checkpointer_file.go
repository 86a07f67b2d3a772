package docflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileCheckpointStore persists checkpoints to disk, one directory per
// correlation id with sequence-numbered JSON files and a "latest" pointer
// file. The pointer file holds the name of the newest checkpoint; it is
// rewritten atomically via rename so a crash mid-save leaves the prior
// pointer intact.
type FileCheckpointStore struct {
	dataDir string
}

// NewFileCheckpointStore creates a file-based checkpoint store rooted at
// dataDir, defaulting to ~/.docflow/checkpoints.
func NewFileCheckpointStore(dataDir string) (*FileCheckpointStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".docflow", "checkpoints")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileCheckpointStore{dataDir: dataDir}, nil
}

func (s *FileCheckpointStore) workflowDir(correlationID string) string {
	return filepath.Join(s.dataDir, correlationID)
}

func (s *FileCheckpointStore) Save(ctx context.Context, checkpoint *Checkpoint) error {
	dir := s.workflowDir(checkpoint.CorrelationID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create workflow directory: %w", err)
	}

	name := fmt.Sprintf("checkpoint-%06d.json", checkpoint.Sequence)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("checkpoint %d already exists for %s", checkpoint.Sequence, checkpoint.CorrelationID)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	// Point "latest" at the new file via rename for atomicity.
	pointer := filepath.Join(dir, "latest")
	tmp := pointer + ".tmp"
	if err := os.WriteFile(tmp, []byte(name), 0644); err != nil {
		return fmt.Errorf("failed to write latest pointer: %w", err)
	}
	if err := os.Rename(tmp, pointer); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) LoadLatest(ctx context.Context, correlationID string) (*Checkpoint, error) {
	dir := s.workflowDir(correlationID)
	pointer, err := os.ReadFile(filepath.Join(dir, "latest"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read latest pointer: %w", err)
	}
	return s.readCheckpoint(filepath.Join(dir, strings.TrimSpace(string(pointer))))
}

func (s *FileCheckpointStore) LoadHistory(ctx context.Context, correlationID string) ([]*Checkpoint, error) {
	dir := s.workflowDir(correlationID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "checkpoint-") {
			continue
		}
		checkpoint, err := s.readCheckpoint(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, checkpoint)
	}
	if len(checkpoints) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].Sequence < checkpoints[j].Sequence
	})
	return checkpoints, nil
}

func (s *FileCheckpointStore) Delete(ctx context.Context, correlationID string) error {
	if err := os.RemoveAll(s.workflowDir(correlationID)); err != nil {
		return fmt.Errorf("failed to delete workflow directory: %w", err)
	}
	return nil
}

// ListWorkflows returns a summary per stored workflow, newest first.
func (s *FileCheckpointStore) ListWorkflows(ctx context.Context) ([]*WorkflowSummary, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*WorkflowSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var summaries []*WorkflowSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, err := s.LoadLatest(ctx, entry.Name())
		if err != nil {
			// Skip workflows we can't read.
			continue
		}
		summaries = append(summaries, SummarizeCheckpoint(checkpoint))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}

func (s *FileCheckpointStore) readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}
