package docflow

import "time"

// WorkflowSummary is a compact view of a workflow's latest checkpoint, used by
// listing surfaces.
type WorkflowSummary struct {
	CorrelationID     string         `json:"correlation_id"`
	Status            WorkflowStatus `json:"status"`
	CurrentStage      Stage          `json:"current_stage"`
	Variant           Variant        `json:"variant"`
	OverallConfidence float64        `json:"overall_confidence"`
	ReviewRequired    bool           `json:"review_required,omitempty"`
	StartTime         time.Time      `json:"start_time,omitzero"`
	EndTime           time.Time      `json:"end_time,omitzero"`
	Duration          time.Duration  `json:"duration"`
	Error             string         `json:"error,omitempty"`
}

// SummarizeCheckpoint builds a WorkflowSummary from a checkpoint.
func SummarizeCheckpoint(checkpoint *Checkpoint) *WorkflowSummary {
	state := checkpoint.State
	summary := &WorkflowSummary{
		CorrelationID: checkpoint.CorrelationID,
	}
	if state == nil {
		return summary
	}
	summary.Status = state.Status
	summary.CurrentStage = state.CurrentStage
	summary.Variant = state.Variant
	summary.OverallConfidence = state.OverallConfidence()
	summary.ReviewRequired = state.ReviewRequired
	summary.StartTime = state.StartTime
	summary.EndTime = state.EndTime
	summary.Error = state.ErrorMessage
	if !state.EndTime.IsZero() {
		summary.Duration = state.EndTime.Sub(state.StartTime)
	} else if !checkpoint.CreatedAt.IsZero() && !state.StartTime.IsZero() {
		// Still running: measure from start to the checkpoint time.
		summary.Duration = checkpoint.CreatedAt.Sub(state.StartTime)
	}
	return summary
}
