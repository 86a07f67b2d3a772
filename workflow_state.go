package docflow

import (
	"time"

	"go.jetify.com/typeid"
)

// NewCorrelationID returns a new prefixed unique id for a workflow.
func NewCorrelationID() string {
	id, err := typeid.WithPrefix("doc")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// WorkflowStatus is the lifecycle status of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending        WorkflowStatus = "pending"
	WorkflowStatusRunning        WorkflowStatus = "running"
	WorkflowStatusCompleted      WorkflowStatus = "completed"
	WorkflowStatusReviewRequired WorkflowStatus = "review_required"
	WorkflowStatusFailed         WorkflowStatus = "failed"
)

// Terminal reports whether the status permits no further mutation.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusReviewRequired || s == WorkflowStatusFailed
}

// WorkflowState is the unit of durable progress for one document. It is
// mutated exclusively by the engine driving it (single-writer discipline per
// correlation id) and is designed to be fully JSON serializable so it can be
// checkpointed as-is.
type WorkflowState struct {
	CorrelationID string         `json:"correlation_id"`
	UserID        string         `json:"user_id,omitempty"`
	DocumentRef   string         `json:"document_ref,omitempty"`
	Variant       Variant        `json:"variant"`
	Status        WorkflowStatus `json:"status"`
	CurrentStage  Stage          `json:"current_stage"`

	// Attempts counts agent invocations per stage; RecoveryUsed marks stages
	// that already consumed their bounded error-recovery attempts.
	Attempts     map[Stage]int `json:"attempts"`
	RecoveryUsed map[Stage]int `json:"recovery_used,omitempty"`

	// StageResults is append-only: every attempt adds a record, none is
	// ever rewritten.
	StageResults map[Stage][]*StageResult `json:"stage_results"`

	// CorrectedInputs holds stage inputs produced by the recovery agent for
	// a bounded re-attempt of the original stage.
	CorrectedInputs map[Stage]map[string]any `json:"corrected_inputs,omitempty"`

	ReviewRequired bool      `json:"review_required,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	FailedStage    Stage     `json:"failed_stage,omitempty"`
	StartTime      time.Time `json:"start_time,omitzero"`
	EndTime        time.Time `json:"end_time,omitzero"`
}

// NewWorkflowState creates the state for a freshly accepted job.
func NewWorkflowState(job *Job, variant Variant) *WorkflowState {
	correlationID := job.CorrelationID
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return &WorkflowState{
		CorrelationID: correlationID,
		UserID:        job.UserID,
		DocumentRef:   job.DocumentRef,
		Variant:       variant,
		Status:        WorkflowStatusPending,
		CurrentStage:  StageClassification,
		Attempts:      map[Stage]int{},
		RecoveryUsed:  map[Stage]int{},
		StageResults:  map[Stage][]*StageResult{},
	}
}

// AppendResult records a new attempt for a stage. History is append-only.
func (s *WorkflowState) AppendResult(result *StageResult) {
	s.StageResults[result.Stage] = append(s.StageResults[result.Stage], result)
}

// LatestResult returns the most recent result for a stage.
func (s *WorkflowState) LatestResult(stage Stage) (*StageResult, bool) {
	results := s.StageResults[stage]
	if len(results) == 0 {
		return nil, false
	}
	return results[len(results)-1], true
}

// CompletedResults returns the latest successful result per pipeline stage, in
// pipeline order.
func (s *WorkflowState) CompletedResults() []*StageResult {
	var completed []*StageResult
	for _, stage := range PipelineStages {
		for i := len(s.StageResults[stage]) - 1; i >= 0; i-- {
			if s.StageResults[stage][i].Succeeded() {
				completed = append(completed, s.StageResults[stage][i])
				break
			}
		}
	}
	return completed
}

// OverallConfidence is the minimum confidence across all completed stages. The
// pipeline is only as strong as its weakest stage, so a single low-confidence
// stage is never masked by several strong ones.
func (s *WorkflowState) OverallConfidence() float64 {
	completed := s.CompletedResults()
	if len(completed) == 0 {
		return 0
	}
	minimum := completed[0].Confidence
	for _, result := range completed[1:] {
		if result.Confidence < minimum {
			minimum = result.Confidence
		}
	}
	return minimum
}

// StageErrors returns the accumulated error descriptors for a stage across all
// attempts, oldest first.
func (s *WorkflowState) StageErrors(stage Stage) []StageError {
	var errs []StageError
	for _, result := range s.StageResults[stage] {
		errs = append(errs, result.Errors...)
	}
	return errs
}

// Copy returns a copy deep enough for checkpoint snapshots: maps and result
// slices are duplicated; individual StageResults are immutable and shared.
func (s *WorkflowState) Copy() *WorkflowState {
	cp := *s
	cp.Attempts = make(map[Stage]int, len(s.Attempts))
	for k, v := range s.Attempts {
		cp.Attempts[k] = v
	}
	if s.RecoveryUsed != nil {
		cp.RecoveryUsed = make(map[Stage]int, len(s.RecoveryUsed))
		for k, v := range s.RecoveryUsed {
			cp.RecoveryUsed[k] = v
		}
	}
	cp.StageResults = make(map[Stage][]*StageResult, len(s.StageResults))
	for k, v := range s.StageResults {
		results := make([]*StageResult, len(v))
		copy(results, v)
		cp.StageResults[k] = results
	}
	if s.CorrectedInputs != nil {
		cp.CorrectedInputs = make(map[Stage]map[string]any, len(s.CorrectedInputs))
		for k, v := range s.CorrectedInputs {
			cp.CorrectedInputs[k] = copyMap(v)
		}
	}
	return &cp
}
