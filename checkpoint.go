package docflow

import "time"

// CheckpointReason records why a snapshot was persisted.
type CheckpointReason string

const (
	ReasonStageComplete CheckpointReason = "stage-complete"
	ReasonPreRetry      CheckpointReason = "pre-retry"
	ReasonFinal         CheckpointReason = "final"
	ReasonManual        CheckpointReason = "manual"
)

// Checkpoint is a durable snapshot of a WorkflowState at a point in time.
// Checkpoints for a correlation id are totally ordered by Sequence; resumption
// always starts from the latest one.
type Checkpoint struct {
	CorrelationID string           `json:"correlation_id"`
	Sequence      int              `json:"sequence"`
	Stage         Stage            `json:"stage"`
	Reason        CheckpointReason `json:"reason"`
	State         *WorkflowState   `json:"state"`
	CreatedAt     time.Time        `json:"created_at"`
}
