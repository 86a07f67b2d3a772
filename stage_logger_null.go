package docflow

import "context"

// NullStageLogger is a no-op implementation.
type NullStageLogger struct{}

func NewNullStageLogger() *NullStageLogger {
	return &NullStageLogger{}
}

func (l *NullStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error {
	return nil
}

func (l *NullStageLogger) StageHistory(ctx context.Context, correlationID string) ([]*StageLogEntry, error) {
	return nil, nil
}
