package docflow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkflowState(t *testing.T) {
	t.Run("generates correlation id when absent", func(t *testing.T) {
		state := NewWorkflowState(&Job{UserID: "u1", DocumentRef: "doc.pdf"}, VariantControl)
		require.NotEmpty(t, state.CorrelationID)
		require.Contains(t, state.CorrelationID, "doc_")
		require.Equal(t, WorkflowStatusPending, state.Status)
		require.Equal(t, StageClassification, state.CurrentStage)
	})

	t.Run("keeps provided correlation id", func(t *testing.T) {
		state := NewWorkflowState(&Job{CorrelationID: "doc_fixed", UserID: "u1", DocumentRef: "doc.pdf"}, VariantTreatment)
		require.Equal(t, "doc_fixed", state.CorrelationID)
		require.Equal(t, VariantTreatment, state.Variant)
	})
}

func TestAppendResultIsAppendOnly(t *testing.T) {
	state := NewWorkflowState(&Job{UserID: "u1", DocumentRef: "doc.pdf"}, VariantControl)

	first := FailedResult(StageExtraction, 1, ErrorTagDomain, "parse_error", "bad json")
	second := &StageResult{Stage: StageExtraction, Status: StatusSuccess, Confidence: 0.9, Attempt: 2}
	state.AppendResult(first)
	state.AppendResult(second)

	require.Len(t, state.StageResults[StageExtraction], 2)
	require.Same(t, first, state.StageResults[StageExtraction][0])
	require.Same(t, second, state.StageResults[StageExtraction][1])

	latest, ok := state.LatestResult(StageExtraction)
	require.True(t, ok)
	require.Same(t, second, latest)
}

func TestOverallConfidenceIsMinimum(t *testing.T) {
	state := NewWorkflowState(&Job{UserID: "u1", DocumentRef: "doc.pdf"}, VariantControl)
	require.Zero(t, state.OverallConfidence())

	state.AppendResult(&StageResult{Stage: StageClassification, Status: StatusSuccess, Confidence: 0.95})
	state.AppendResult(&StageResult{Stage: StageExtraction, Status: StatusSuccess, Confidence: 0.72})
	state.AppendResult(&StageResult{Stage: StageMapping, Status: StatusPartial, Confidence: 0.88})

	require.InDelta(t, 0.72, state.OverallConfidence(), 1e-9)
}

func TestCompletedResultsUsesLatestSuccess(t *testing.T) {
	state := NewWorkflowState(&Job{UserID: "u1", DocumentRef: "doc.pdf"}, VariantControl)
	state.AppendResult(FailedResult(StageClassification, 1, ErrorTagDomain, "parse_error", "bad"))
	state.AppendResult(&StageResult{Stage: StageClassification, Status: StatusSuccess, Confidence: 0.8, Attempt: 2})
	state.AppendResult(FailedResult(StageExtraction, 1, ErrorTagDomain, "no_fields", "nothing found"))

	completed := state.CompletedResults()
	require.Len(t, completed, 1)
	require.Equal(t, StageClassification, completed[0].Stage)
	require.Equal(t, 2, completed[0].Attempt)
}

func TestStageErrorsAccumulateAcrossAttempts(t *testing.T) {
	state := NewWorkflowState(&Job{UserID: "u1", DocumentRef: "doc.pdf"}, VariantControl)
	state.AppendResult(FailedResult(StageMapping, 1, ErrorTagInfrastructure, KindInfrastructure, "timeout"))
	state.AppendResult(FailedResult(StageMapping, 2, ErrorTagDomain, "no_mappings", "no candidates"))

	errs := state.StageErrors(StageMapping)
	require.Len(t, errs, 2)
	require.Equal(t, "timeout", errs[0].Message)
	require.Equal(t, "no_mappings", errs[1].Code)
}

func TestWorkflowStateCopyIsolation(t *testing.T) {
	state := NewWorkflowState(&Job{UserID: "u1", DocumentRef: "doc.pdf"}, VariantControl)
	state.Attempts[StageClassification] = 1
	state.AppendResult(&StageResult{Stage: StageClassification, Status: StatusSuccess, Confidence: 0.9})

	snapshot := state.Copy()

	state.Attempts[StageClassification] = 2
	state.AppendResult(&StageResult{Stage: StageClassification, Status: StatusFailed})

	require.Equal(t, 1, snapshot.Attempts[StageClassification])
	require.Len(t, snapshot.StageResults[StageClassification], 1)
}

func TestWorkflowStateRoundTripsJSON(t *testing.T) {
	state := NewWorkflowState(&Job{UserID: "u1", DocumentRef: "doc.pdf"}, VariantTreatment)
	state.Attempts[StageClassification] = 1
	state.AppendResult(&StageResult{
		Stage:      StageClassification,
		Status:     StatusSuccess,
		Confidence: 0.91,
		Payload:    map[string]any{"document_type": "invoice"},
	})
	state.CurrentStage = StageExtraction

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var restored WorkflowState
	require.NoError(t, json.Unmarshal(data, &restored))
	require.Equal(t, state.CorrelationID, restored.CorrelationID)
	require.Equal(t, StageExtraction, restored.CurrentStage)
	require.Equal(t, 1, restored.Attempts[StageClassification])
	require.Equal(t, "invoice", restored.StageResults[StageClassification][0].Payload["document_type"])
}

func TestWorkflowStatusTerminal(t *testing.T) {
	require.True(t, WorkflowStatusCompleted.Terminal())
	require.True(t, WorkflowStatusReviewRequired.Terminal())
	require.True(t, WorkflowStatusFailed.Terminal())
	require.False(t, WorkflowStatusPending.Terminal())
	require.False(t, WorkflowStatusRunning.Terminal())
}
