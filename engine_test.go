package docflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

// successAgent returns a successful result with a fixed confidence.
func successAgent(name string, confidence float64) Agent {
	return NewAgentFunc(name, func(ctx context.Context, input *StageInput) (*StageResult, error) {
		return &StageResult{
			Stage:      input.Stage,
			Status:     StatusSuccess,
			Confidence: confidence,
			Payload:    map[string]any{"agent": name},
		}, nil
	})
}

// recoveryAgent re-arms the failing stage with a corrected input.
func recoveryAgent() Agent {
	return NewAgentFunc("recovery", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		return &StageResult{
			Stage:      StageErrorRecovery,
			Status:     StatusSuccess,
			Confidence: 1.0,
			Payload: map[string]any{
				"failing_stage":   string(input.FailingStage),
				"corrected_input": map[string]any{"format_hint": "retry with simpler parsing"},
			},
		}, nil
	})
}

// decliningRecoveryAgent refuses to recover anything.
func decliningRecoveryAgent() Agent {
	return NewAgentFunc("recovery", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		return FailedResult(StageErrorRecovery, input.Attempt, ErrorTagDomain, "unrecoverable", "no correction available"), nil
	})
}

// testRegistry builds a registry where every stage succeeds at the given
// confidence unless overridden.
func testRegistry(confidences map[Stage]float64, overrides map[Stage]Agent) AgentRegistry {
	registry := AgentRegistry{}
	for _, stage := range PipelineStages {
		confidence := 0.9
		if c, ok := confidences[stage]; ok {
			confidence = c
		}
		registry[stage] = successAgent(string(stage), confidence)
	}
	registry[StageErrorRecovery] = recoveryAgent()
	for stage, agent := range overrides {
		registry[stage] = agent
	}
	return registry
}

func testJob() *Job {
	return &Job{
		UserID:      "user-1",
		DocumentRef: "s3://docs/invoice-42.pdf",
		RawInput: map[string]any{
			"text": "INVOICE #42\nTotal: $100.00",
		},
	}
}

func fastBackoff() func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}
}

func TestNewEngineValidation(t *testing.T) {
	t.Run("missing agents", func(t *testing.T) {
		_, err := NewEngine(EngineOptions{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "agents are required")
	})

	t.Run("incomplete registry", func(t *testing.T) {
		registry := testRegistry(nil, nil)
		delete(registry, StageMapping)
		_, err := NewEngine(EngineOptions{Agents: registry})
		require.Error(t, err)
		require.Contains(t, err.Error(), "mapping")
	})

	t.Run("missing recovery agent", func(t *testing.T) {
		registry := testRegistry(nil, nil)
		delete(registry, StageErrorRecovery)
		_, err := NewEngine(EngineOptions{Agents: registry})
		require.Error(t, err)
		require.Contains(t, err.Error(), "error_recovery")
	})

	t.Run("malformed thresholds", func(t *testing.T) {
		_, err := NewEngine(EngineOptions{
			Agents:     testRegistry(nil, nil),
			Thresholds: Thresholds{AutoApprove: 0.5, Warning: 0.9},
		})
		require.Error(t, err)
	})
}

func TestEngineHappyPath(t *testing.T) {
	store := NewMemoryCheckpointStore()
	engine, err := NewEngine(EngineOptions{
		Agents:       testRegistry(nil, nil),
		Checkpointer: store,
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, result.Status)
	require.False(t, result.ReviewRequired)
	require.InDelta(t, 0.9, result.OverallConfidence, 1e-9)

	for _, stage := range PipelineStages {
		require.Len(t, result.StageResults[stage], 1, "stage %s should run once", stage)
	}

	history, err := store.LoadHistory(context.Background(), result.CorrelationID)
	require.NoError(t, err)
	// One stage-complete checkpoint per stage plus the final one.
	require.Len(t, history, len(PipelineStages)+1)
	for i, checkpoint := range history {
		require.Equal(t, i+1, checkpoint.Sequence)
	}
	require.Equal(t, ReasonFinal, history[len(history)-1].Reason)
	require.Equal(t, WorkflowStatusCompleted, history[len(history)-1].State.Status)
}

func TestEngineLowConfidenceRequiresReview(t *testing.T) {
	var laterStages atomic.Int32
	counting := NewAgentFunc("mapping", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		laterStages.Add(1)
		return &StageResult{Stage: input.Stage, Status: StatusSuccess, Confidence: 0.9}, nil
	})

	store := NewMemoryCheckpointStore()
	engine, err := NewEngine(EngineOptions{
		Agents: testRegistry(
			map[Stage]float64{StageExtraction: 0.60},
			map[Stage]Agent{StageMapping: counting},
		),
		Checkpointer: store,
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusReviewRequired, result.Status)
	require.True(t, result.ReviewRequired)
	require.Zero(t, laterStages.Load(), "stages past the low-confidence one must not run")

	// Classification complete, extraction complete, then the final snapshot.
	history, err := store.LoadHistory(context.Background(), result.CorrelationID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, ReasonFinal, history[2].Reason)
	require.Equal(t, WorkflowStatusReviewRequired, history[2].State.Status)
}

func TestEngineWarningBandFlagsButCompletes(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Agents: testRegistry(map[Stage]float64{StageExtraction: 0.75}, nil),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, result.Status)
	require.True(t, result.ReviewRequired)
	require.InDelta(t, 0.75, result.OverallConfidence, 1e-9)
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	flaky := NewAgentFunc("extraction", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		if attempts.Add(1) < 3 {
			return FailedResult(input.Stage, input.Attempt, ErrorTagDomain, "parse_error", "malformed response"), nil
		}
		return &StageResult{Stage: input.Stage, Status: StatusSuccess, Confidence: 0.9}, nil
	})

	store := NewMemoryCheckpointStore()
	engine, err := NewEngine(EngineOptions{
		Agents:       testRegistry(nil, map[Stage]Agent{StageExtraction: flaky}),
		Checkpointer: store,
		MaxAttempts:  3,
		NewBackoff:   fastBackoff(),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, result.Status)
	require.Equal(t, int32(3), attempts.Load())

	// All three attempts stay on the record.
	require.Len(t, result.StageResults[StageExtraction], 3)
	require.Equal(t, StatusFailed, result.StageResults[StageExtraction][0].Status)
	require.Equal(t, StatusFailed, result.StageResults[StageExtraction][1].Status)
	require.Equal(t, StatusSuccess, result.StageResults[StageExtraction][2].Status)

	history, err := store.LoadHistory(context.Background(), result.CorrelationID)
	require.NoError(t, err)
	var preRetry, extractionComplete int
	for _, checkpoint := range history {
		if checkpoint.Stage != StageExtraction {
			continue
		}
		switch checkpoint.Reason {
		case ReasonPreRetry:
			preRetry++
		case ReasonStageComplete:
			extractionComplete++
		}
	}
	require.Equal(t, 2, preRetry)
	require.Equal(t, 1, extractionComplete)
}

func TestEngineInfrastructureErrorsBackOff(t *testing.T) {
	var attempts atomic.Int32
	flaky := NewAgentFunc("extraction", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		if attempts.Add(1) < 2 {
			return nil, errors.New("provider timeout")
		}
		return &StageResult{Stage: input.Stage, Status: StatusSuccess, Confidence: 0.9}, nil
	})

	engine, err := NewEngine(EngineOptions{
		Agents:     testRegistry(nil, map[Stage]Agent{StageExtraction: flaky}),
		NewBackoff: fastBackoff(),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, result.Status)

	// The Go error was classified and normalized onto the failed result.
	first := result.StageResults[StageExtraction][0]
	require.Equal(t, StatusFailed, first.Status)
	require.True(t, first.InfrastructureFailure())
	require.Equal(t, KindInfrastructure, first.Errors[0].Code)
}

func TestEngineRecoveryReArmsStage(t *testing.T) {
	var attempts atomic.Int32
	needsHint := NewAgentFunc("extraction", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		attempts.Add(1)
		if input.CorrectedInput["format_hint"] == nil {
			return FailedResult(input.Stage, input.Attempt, ErrorTagDomain, "parse_error", "cannot parse"), nil
		}
		return &StageResult{Stage: input.Stage, Status: StatusSuccess, Confidence: 0.9}, nil
	})

	store := NewMemoryCheckpointStore()
	engine, err := NewEngine(EngineOptions{
		Agents:       testRegistry(nil, map[Stage]Agent{StageExtraction: needsHint}),
		Checkpointer: store,
		MaxAttempts:  2,
		NewBackoff:   fastBackoff(),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusCompleted, result.Status)

	// Two failed attempts, then recovery, then one corrected attempt.
	require.Equal(t, int32(3), attempts.Load())
	require.Len(t, result.StageResults[StageErrorRecovery], 1)
	require.Equal(t, StatusSuccess, result.StageResults[StageErrorRecovery][0].Status)

	history, err := store.LoadHistory(context.Background(), result.CorrelationID)
	require.NoError(t, err)
	var recoveryCheckpoints int
	for _, checkpoint := range history {
		if checkpoint.Stage == StageErrorRecovery {
			recoveryCheckpoints++
		}
	}
	require.Equal(t, 1, recoveryCheckpoints)
}

func TestEngineRecoveryDeclinedFailsWorkflow(t *testing.T) {
	alwaysFails := NewAgentFunc("extraction", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		return FailedResult(input.Stage, input.Attempt, ErrorTagDomain, "parse_error", "cannot parse"), nil
	})

	engine, err := NewEngine(EngineOptions{
		Agents: testRegistry(nil, map[Stage]Agent{
			StageExtraction:    alwaysFails,
			StageErrorRecovery: decliningRecoveryAgent(),
		}),
		MaxAttempts: 2,
		NewBackoff:  fastBackoff(),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err, "a failed workflow is a valid outcome, not an execution error")
	require.Equal(t, WorkflowStatusFailed, result.Status)
	require.Equal(t, StageExtraction, result.FailedStage)
	require.NotEmpty(t, result.ErrorMessage)
}

func TestEngineRecoveryExhaustedFailsWorkflow(t *testing.T) {
	var attempts atomic.Int32
	alwaysFails := NewAgentFunc("extraction", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		attempts.Add(1)
		return FailedResult(input.Stage, input.Attempt, ErrorTagDomain, "parse_error", "cannot parse"), nil
	})

	engine, err := NewEngine(EngineOptions{
		Agents:              testRegistry(nil, map[Stage]Agent{StageExtraction: alwaysFails}),
		MaxAttempts:         2,
		MaxRecoveryAttempts: 1,
		NewBackoff:          fastBackoff(),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFailed, result.Status)
	require.Equal(t, StageExtraction, result.FailedStage)

	// Two base attempts plus the single recovery-granted one.
	require.Equal(t, int32(3), attempts.Load())
}

func TestEngineFatalErrorSkipsRetries(t *testing.T) {
	var attempts atomic.Int32
	fatal := NewAgentFunc("classification", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		attempts.Add(1)
		return FailedResult(input.Stage, input.Attempt, ErrorTagDomain, KindFatal, "unsupported document format"), nil
	})

	engine, err := NewEngine(EngineOptions{
		Agents:      testRegistry(nil, map[Stage]Agent{StageClassification: fatal}),
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFailed, result.Status)
	require.Equal(t, int32(1), attempts.Load())
}

func TestEngineContainsAgentPanics(t *testing.T) {
	panicky := NewAgentFunc("extraction", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		panic("index out of range")
	})

	engine, err := NewEngine(EngineOptions{
		Agents: testRegistry(nil, map[Stage]Agent{
			StageExtraction:    panicky,
			StageErrorRecovery: decliningRecoveryAgent(),
		}),
		MaxAttempts: 2,
		NewBackoff:  fastBackoff(),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFailed, result.Status)
	require.Equal(t, "panic", result.StageResults[StageExtraction][0].Errors[0].Code)
}

func TestEngineNilAgentResult(t *testing.T) {
	empty := NewAgentFunc("classification", func(ctx context.Context, input *StageInput) (*StageResult, error) {
		return nil, nil
	})

	engine, err := NewEngine(EngineOptions{
		Agents: testRegistry(nil, map[Stage]Agent{
			StageClassification: empty,
			StageErrorRecovery:  decliningRecoveryAgent(),
		}),
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Equal(t, WorkflowStatusFailed, result.Status)
	require.Equal(t, "empty_result", result.StageResults[StageClassification][0].Errors[0].Code)
}

func TestEngineCheckpointWriteFailureIsRetryable(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Agents:       testRegistry(nil, nil),
		Checkpointer: &failingCheckpointStore{},
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), testJob())
	require.Error(t, err)
	require.True(t, MatchesKind(err, KindCheckpoint))
	require.True(t, IsRetryableJobFailure(err))
}

func TestEngineValidationFailure(t *testing.T) {
	engine, err := NewEngine(EngineOptions{Agents: testRegistry(nil, nil)})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), &Job{DocumentRef: "doc.pdf"})
	require.Error(t, err)
	require.True(t, MatchesKind(err, KindValidation))
	require.False(t, IsRetryableJobFailure(err))
}

func TestEngineCancellation(t *testing.T) {
	engine, err := NewEngine(EngineOptions{Agents: testRegistry(nil, nil)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Run(ctx, testJob())
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngineResume(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()

	t.Run("terminal workflow resumes as a no-op", func(t *testing.T) {
		var invocations atomic.Int32
		counting := NewAgentFunc("classification", func(c context.Context, input *StageInput) (*StageResult, error) {
			invocations.Add(1)
			return &StageResult{Stage: input.Stage, Status: StatusSuccess, Confidence: 0.9}, nil
		})
		engine, err := NewEngine(EngineOptions{
			Agents:       testRegistry(nil, map[Stage]Agent{StageClassification: counting}),
			Checkpointer: store,
		})
		require.NoError(t, err)

		first, err := engine.Run(ctx, testJob())
		require.NoError(t, err)
		require.Equal(t, WorkflowStatusCompleted, first.Status)
		require.Equal(t, int32(1), invocations.Load())

		resumed, err := engine.Run(ctx, &Job{
			CorrelationID: first.CorrelationID,
			UserID:        "user-1",
			DocumentRef:   "s3://docs/invoice-42.pdf",
			Resume:        true,
		})
		require.NoError(t, err)
		require.Equal(t, WorkflowStatusCompleted, resumed.Status)
		require.Equal(t, first.OverallConfidence, resumed.OverallConfidence)
		require.Equal(t, int32(1), invocations.Load(), "agents must not run again")
	})

	t.Run("mid-flight workflow resumes from its checkpoint", func(t *testing.T) {
		var classifications atomic.Int32
		counting := NewAgentFunc("classification", func(c context.Context, input *StageInput) (*StageResult, error) {
			classifications.Add(1)
			return &StageResult{Stage: input.Stage, Status: StatusSuccess, Confidence: 0.9}, nil
		})
		engine, err := NewEngine(EngineOptions{
			Agents:       testRegistry(nil, map[Stage]Agent{StageClassification: counting}),
			Checkpointer: store,
		})
		require.NoError(t, err)

		// Simulate a run that crashed after classification committed.
		state := NewWorkflowState(&Job{
			CorrelationID: "doc_crashed",
			UserID:        "user-1",
			DocumentRef:   "doc.pdf",
		}, VariantControl)
		state.Status = WorkflowStatusRunning
		state.StartTime = time.Now()
		state.Attempts[StageClassification] = 1
		state.AppendResult(&StageResult{Stage: StageClassification, Status: StatusSuccess, Confidence: 0.9, Attempt: 1})
		state.CurrentStage = StageExtraction
		require.NoError(t, store.Save(ctx, &Checkpoint{
			CorrelationID: "doc_crashed",
			Sequence:      1,
			Stage:         StageClassification,
			Reason:        ReasonStageComplete,
			State:         state,
			CreatedAt:     time.Now(),
		}))

		result, err := engine.Run(ctx, &Job{
			CorrelationID: "doc_crashed",
			UserID:        "user-1",
			DocumentRef:   "doc.pdf",
			RawInput:      map[string]any{"text": "INVOICE"},
			Resume:        true,
		})
		require.NoError(t, err)
		require.Equal(t, WorkflowStatusCompleted, result.Status)
		require.Zero(t, classifications.Load(), "completed stage must not rerun")

		// Sequences continue after the pre-crash checkpoint.
		history, err := store.LoadHistory(ctx, "doc_crashed")
		require.NoError(t, err)
		for i, checkpoint := range history {
			require.Equal(t, i+1, checkpoint.Sequence)
		}
	})

	t.Run("resume of unknown workflow errors", func(t *testing.T) {
		engine, err := NewEngine(EngineOptions{
			Agents:       testRegistry(nil, nil),
			Checkpointer: store,
		})
		require.NoError(t, err)

		_, err = engine.Run(ctx, &Job{
			CorrelationID: "doc_never_seen",
			UserID:        "user-1",
			DocumentRef:   "doc.pdf",
			Resume:        true,
		})
		require.Error(t, err)
		require.True(t, MatchesKind(err, KindCheckpoint))
	})
}

func TestEngineCallbacks(t *testing.T) {
	recorder := &recordingCallbacks{}
	engine, err := NewEngine(EngineOptions{
		Agents:    testRegistry(nil, nil),
		Callbacks: recorder,
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), testJob())
	require.NoError(t, err)

	require.Equal(t, int32(1), recorder.beforeWorkflow.Load())
	require.Equal(t, int32(1), recorder.afterWorkflow.Load())
	require.Equal(t, int32(len(PipelineStages)), recorder.beforeStage.Load())
	require.Equal(t, int32(len(PipelineStages)), recorder.afterStage.Load())
}

type recordingCallbacks struct {
	BaseExecutionCallbacks
	beforeWorkflow atomic.Int32
	afterWorkflow  atomic.Int32
	beforeStage    atomic.Int32
	afterStage     atomic.Int32
}

func (r *recordingCallbacks) BeforeWorkflow(ctx context.Context, event *WorkflowEvent) {
	r.beforeWorkflow.Add(1)
}

func (r *recordingCallbacks) AfterWorkflow(ctx context.Context, event *WorkflowEvent) {
	r.afterWorkflow.Add(1)
}

func (r *recordingCallbacks) BeforeStage(ctx context.Context, event *StageEvent) {
	r.beforeStage.Add(1)
}

func (r *recordingCallbacks) AfterStage(ctx context.Context, event *StageEvent) {
	r.afterStage.Add(1)
}

type failingCheckpointStore struct{}

func (s *failingCheckpointStore) Save(ctx context.Context, checkpoint *Checkpoint) error {
	return errors.New("disk full")
}

func (s *failingCheckpointStore) LoadLatest(ctx context.Context, correlationID string) (*Checkpoint, error) {
	return nil, ErrNotFound
}

func (s *failingCheckpointStore) LoadHistory(ctx context.Context, correlationID string) ([]*Checkpoint, error) {
	return nil, ErrNotFound
}

func (s *failingCheckpointStore) Delete(ctx context.Context, correlationID string) error {
	return nil
}
