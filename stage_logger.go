package docflow

import (
	"context"
	"time"
)

// StageLogEntry records one agent invocation for audit.
type StageLogEntry struct {
	CorrelationID string         `json:"correlation_id"`
	Stage         Stage          `json:"stage"`
	AgentName     string         `json:"agent"`
	Attempt       int            `json:"attempt"`
	Status        StageStatus    `json:"status,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Error         string         `json:"error,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	Duration      float64        `json:"duration"`
}

// StageLogger records completed agent invocations.
type StageLogger interface {
	// LogStage logs a completed agent invocation.
	LogStage(ctx context.Context, entry *StageLogEntry) error

	// StageHistory retrieves the invocation log for a workflow.
	StageHistory(ctx context.Context, correlationID string) ([]*StageLogEntry, error)
}
