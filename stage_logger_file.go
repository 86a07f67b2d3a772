package docflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStageLogger writes one newline-delimited JSON file per workflow.
type FileStageLogger struct {
	directory string
}

func NewFileStageLogger(directory string) *FileStageLogger {
	return &FileStageLogger{directory: directory}
}

func (l *FileStageLogger) logPath(correlationID string) string {
	return filepath.Join(l.directory, fmt.Sprintf("%s.jsonl", correlationID))
}

func (l *FileStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	path := l.logPath(entry.CorrelationID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (l *FileStageLogger) StageHistory(ctx context.Context, correlationID string) ([]*StageLogEntry, error) {
	data, err := os.ReadFile(l.logPath(correlationID))
	if err != nil {
		return nil, err
	}
	var entries []*StageLogEntry
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var entry StageLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
