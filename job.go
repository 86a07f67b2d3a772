package docflow

// Job is the unit of work delivered by the queue adapter. RawInput carries the
// already-extracted document content (text, page metadata, target form schema)
// that the pipeline stages operate on; raw OCR belongs to an upstream
// collaborator.
type Job struct {
	CorrelationID string         `json:"correlation_id,omitempty"`
	UserID        string         `json:"user_id"`
	DocumentRef   string         `json:"document_ref"`
	RawInput      map[string]any `json:"raw_input"`
	Resume        bool           `json:"resume,omitempty"`
}

// Validate performs the structural checks that gate stage one. A failure here
// is a DomainValidationError: the job fails immediately with no retry.
func (j *Job) Validate() error {
	if j == nil {
		return NewValidationError("job is required")
	}
	if j.UserID == "" {
		return NewValidationError("user id is required")
	}
	if j.DocumentRef == "" {
		return NewValidationError("document ref is required")
	}
	if j.Resume && j.CorrelationID == "" {
		return NewValidationError("resume requires a correlation id")
	}
	if !j.Resume && len(j.RawInput) == 0 {
		return NewValidationError("raw input is required")
	}
	return nil
}

// Result is returned to the queue adapter when a workflow reaches a terminal
// state.
type Result struct {
	CorrelationID     string                   `json:"correlation_id"`
	Status            WorkflowStatus           `json:"status"`
	Variant           Variant                  `json:"variant"`
	StageResults      map[Stage][]*StageResult `json:"stage_results"`
	OverallConfidence float64                  `json:"overall_confidence"`
	ReviewRequired    bool                     `json:"review_required,omitempty"`
	ErrorMessage      string                   `json:"error_message,omitempty"`
	FailedStage       Stage                    `json:"failed_stage,omitempty"`
}

func newResult(state *WorkflowState) *Result {
	return &Result{
		CorrelationID:     state.CorrelationID,
		Status:            state.Status,
		Variant:           state.Variant,
		StageResults:      state.Copy().StageResults,
		OverallConfidence: state.OverallConfidence(),
		ReviewRequired:    state.ReviewRequired,
		ErrorMessage:      state.ErrorMessage,
		FailedStage:       state.FailedStage,
	}
}
