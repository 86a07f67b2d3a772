package docflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// EngineOptions configures an Engine. Agents must cover every pipeline stage
// plus error recovery.
type EngineOptions struct {
	Agents       AgentRegistry
	Checkpointer CheckpointStore
	Thresholds   Thresholds
	Variant      Variant
	Logger       *slog.Logger
	StageLogger  StageLogger
	Callbacks    ExecutionCallbacks

	// MaxAttempts is the per-stage retry ceiling, enforced before invoking
	// the agent again. MaxRecoveryAttempts bounds how many times error
	// recovery may re-arm a stage; the safer default is one.
	MaxAttempts         int
	MaxRecoveryAttempts int

	// StageTimeout bounds a single agent invocation. Zero disables the
	// engine-level bound; agents still own their provider timeouts.
	StageTimeout time.Duration

	// NewBackoff builds the delay schedule used between infrastructure-error
	// retries of a stage.
	NewBackoff func() backoff.BackOff
}

// Engine drives a WorkflowState from creation to a terminal stage, invoking
// one agent per stage, consulting the confidence router after each success,
// and checkpointing every transition so no state lives only in memory across
// a stage boundary.
type Engine struct {
	agents       AgentRegistry
	checkpointer CheckpointStore
	thresholds   Thresholds
	variant      Variant
	logger       *slog.Logger
	stageLogger  StageLogger
	callbacks    ExecutionCallbacks

	maxAttempts  int
	maxRecovery  int
	stageTimeout time.Duration
	newBackoff   func() backoff.BackOff
}

// NewEngine creates an engine for one pipeline variant.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Agents == nil {
		return nil, fmt.Errorf("agents are required")
	}
	for _, stage := range PipelineStages {
		if _, ok := opts.Agents[stage]; !ok {
			return nil, fmt.Errorf("agent for stage %q is required", stage)
		}
	}
	if _, ok := opts.Agents[StageErrorRecovery]; !ok {
		return nil, fmt.Errorf("agent for stage %q is required", StageErrorRecovery)
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewMemoryCheckpointStore()
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.Variant == "" {
		opts.Variant = VariantControl
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.StageLogger == nil {
		opts.StageLogger = NewNullStageLogger()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseExecutionCallbacks{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxRecoveryAttempts <= 0 {
		opts.MaxRecoveryAttempts = 1
	}
	if opts.NewBackoff == nil {
		opts.NewBackoff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 10 * time.Second
			return bo
		}
	}
	return &Engine{
		agents:       opts.Agents,
		checkpointer: opts.Checkpointer,
		thresholds:   opts.Thresholds,
		variant:      opts.Variant,
		logger:       opts.Logger,
		stageLogger:  opts.StageLogger,
		callbacks:    opts.Callbacks,
		maxAttempts:  opts.MaxAttempts,
		maxRecovery:  opts.MaxRecoveryAttempts,
		stageTimeout: opts.StageTimeout,
		newBackoff:   opts.NewBackoff,
	}, nil
}

// Variant returns the pipeline variant this engine executes.
func (e *Engine) Variant() Variant {
	return e.variant
}

// History returns the ordered checkpoint history for a workflow.
func (e *Engine) History(ctx context.Context, correlationID string) ([]*Checkpoint, error) {
	return e.checkpointer.LoadHistory(ctx, correlationID)
}

// Run drives a job to a terminal state. A failed workflow is a valid outcome
// and returns a Result with a nil error; a non-nil error means the execution
// attempt itself could not proceed (validation failure, checkpoint write
// failure, cancellation) and the queue adapter decides on redelivery.
func (e *Engine) Run(ctx context.Context, job *Job) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	var state *WorkflowState
	var sequence int
	if job.Resume {
		checkpoint, err := e.checkpointer.LoadLatest(ctx, job.CorrelationID)
		if err != nil {
			return nil, NewCheckpointError("", fmt.Errorf("failed to load checkpoint for %s: %w", job.CorrelationID, err))
		}
		state = checkpoint.State.Copy()
		sequence = checkpoint.Sequence
		if state.Status.Terminal() {
			// Nothing to do: the prior run already finished.
			e.logger.Info("workflow already terminal at resume",
				"correlation_id", state.CorrelationID,
				"status", state.Status)
			return newResult(state), nil
		}
	} else {
		state = NewWorkflowState(job, e.variant)
	}

	logger := e.logger.With("correlation_id", state.CorrelationID, "variant", state.Variant)
	ctx = WithLogger(ctx, logger)

	state.Status = WorkflowStatusRunning
	if state.StartTime.IsZero() {
		state.StartTime = time.Now()
	}

	e.callbacks.BeforeWorkflow(ctx, &WorkflowEvent{
		CorrelationID: state.CorrelationID,
		Variant:       state.Variant,
		Status:        state.Status,
		StartTime:     state.StartTime,
	})

	runErr := e.runStages(ctx, job, state, &sequence, logger)

	endTime := time.Now()
	if state.Status.Terminal() && state.EndTime.IsZero() {
		state.EndTime = endTime
	}
	e.callbacks.AfterWorkflow(ctx, &WorkflowEvent{
		CorrelationID:     state.CorrelationID,
		Variant:           state.Variant,
		Status:            state.Status,
		StartTime:         state.StartTime,
		EndTime:           endTime,
		Duration:          endTime.Sub(state.StartTime),
		OverallConfidence: state.OverallConfidence(),
		ReviewRequired:    state.ReviewRequired,
		Error:             runErr,
	})

	if runErr != nil {
		return nil, runErr
	}
	return newResult(state), nil
}

// runStages executes the stage loop until the workflow is terminal.
func (e *Engine) runStages(ctx context.Context, job *Job, state *WorkflowState, sequence *int, logger *slog.Logger) error {
	retryDelays := map[Stage]backoff.BackOff{}

	for !IsTerminal(state.CurrentStage) {
		// Cancellation is checked between stages; mid-agent cancellation is
		// cooperative through the agent's own timeout.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		stage := state.CurrentStage
		if state.Attempts[stage] >= e.attemptCeiling(state, stage) {
			if err := e.recover(ctx, job, state, sequence, stage, logger); err != nil {
				return err
			}
			continue
		}

		state.Attempts[stage]++
		attempt := state.Attempts[stage]
		result := e.invokeAgent(ctx, job, state, stage, attempt, logger)
		state.AppendResult(result)

		if !result.Succeeded() {
			logger.Warn("stage attempt failed",
				"stage", stage,
				"attempt", attempt,
				"errors", len(result.Errors))
			if err := e.saveCheckpoint(ctx, state, sequence, stage, ReasonPreRetry); err != nil {
				return err
			}
			if Decide(result, e.thresholds) == DecisionFail {
				return e.fail(ctx, state, sequence, stage, logger)
			}
			if result.InfrastructureFailure() && state.Attempts[stage] < e.attemptCeiling(state, stage) {
				bo, ok := retryDelays[stage]
				if !ok {
					bo = e.newBackoff()
					retryDelays[stage] = bo
				}
				if err := e.wait(ctx, bo.NextBackOff()); err != nil {
					return err
				}
			}
			continue
		}

		if err := e.saveCheckpoint(ctx, state, sequence, stage, ReasonStageComplete); err != nil {
			return err
		}

		switch decision := Decide(result, e.thresholds); decision {
		case DecisionAdvance, DecisionAdvanceFlagged:
			if decision == DecisionAdvanceFlagged {
				state.ReviewRequired = true
				logger.Info("workflow flagged for manual review",
					"stage", stage,
					"confidence", result.Confidence)
			}
			next, ok := NextStage(stage)
			if !ok {
				return NewPipelineError(KindFatal, stage, "no next stage in pipeline order")
			}
			state.CurrentStage = next
			if next == StageComplete {
				e.finishCompleted(state, logger)
				return e.saveCheckpoint(ctx, state, sequence, stage, ReasonFinal)
			}
		case DecisionRequireReview:
			// Deliberate short-circuit: the low-confidence outcome is
			// accepted and parked for a human, not failed.
			state.ReviewRequired = true
			state.CurrentStage = StageComplete
			state.Status = WorkflowStatusReviewRequired
			state.EndTime = time.Now()
			logger.Info("workflow requires review",
				"stage", stage,
				"confidence", result.Confidence)
			return e.saveCheckpoint(ctx, state, sequence, stage, ReasonFinal)
		case DecisionFail:
			return e.fail(ctx, state, sequence, stage, logger)
		case DecisionRetry:
			// Unreachable for successful results; kept for completeness.
			continue
		}
	}
	return nil
}

// attemptCeiling returns the retry bound for a stage. Each consumed recovery
// grants exactly one additional attempt of the original stage.
func (e *Engine) attemptCeiling(state *WorkflowState, stage Stage) int {
	return e.maxAttempts + state.RecoveryUsed[stage]
}

// recover hands an exhausted stage to the error-recovery agent. Recovery may
// produce a corrected input to re-arm the stage for one more attempt, or
// decline, which fails the workflow.
func (e *Engine) recover(ctx context.Context, job *Job, state *WorkflowState, sequence *int, failing Stage, logger *slog.Logger) error {
	if state.RecoveryUsed[failing] >= e.maxRecovery {
		logger.Error("error recovery exhausted", "stage", failing)
		return e.fail(ctx, state, sequence, failing, logger)
	}
	state.RecoveryUsed[failing]++
	state.CurrentStage = StageErrorRecovery

	attempt := state.RecoveryUsed[failing]
	input := e.stageInput(job, state, StageErrorRecovery, attempt)
	input.FailingStage = failing
	input.ErrorHistory = state.StageErrors(failing)

	result := e.process(ctx, e.agents[StageErrorRecovery], input, logger)
	state.AppendResult(result)

	if !result.Succeeded() {
		logger.Error("error recovery declined", "stage", failing)
		return e.fail(ctx, state, sequence, failing, logger)
	}

	if corrected, ok := result.Payload["corrected_input"].(map[string]any); ok {
		if state.CorrectedInputs == nil {
			state.CorrectedInputs = map[Stage]map[string]any{}
		}
		state.CorrectedInputs[failing] = corrected
	}
	state.CurrentStage = failing
	logger.Info("error recovery re-armed stage", "stage", failing)
	return e.saveCheckpoint(ctx, state, sequence, StageErrorRecovery, ReasonStageComplete)
}

// invokeAgent runs the stage's agent with callbacks, audit logging, and panic
// containment. An agent panic or unexpected Go error is treated identically to
// a failed stage result.
func (e *Engine) invokeAgent(ctx context.Context, job *Job, state *WorkflowState, stage Stage, attempt int, logger *slog.Logger) *StageResult {
	agent := e.agents[stage]
	input := e.stageInput(job, state, stage, attempt)

	startTime := time.Now()
	event := &StageEvent{
		CorrelationID: state.CorrelationID,
		Variant:       state.Variant,
		Stage:         stage,
		AgentName:     agent.Name(),
		Attempt:       attempt,
		StartTime:     startTime,
	}
	e.callbacks.BeforeStage(ctx, event)

	result := e.process(ctx, agent, input, logger)

	endTime := time.Now()
	event.Result = result
	event.EndTime = endTime
	event.Duration = endTime.Sub(startTime)
	e.callbacks.AfterStage(ctx, event)

	entry := &StageLogEntry{
		CorrelationID: state.CorrelationID,
		Stage:         stage,
		AgentName:     agent.Name(),
		Attempt:       attempt,
		Status:        result.Status,
		Confidence:    result.Confidence,
		Payload:       result.Payload,
		StartTime:     startTime,
		Duration:      endTime.Sub(startTime).Seconds(),
	}
	if len(result.Errors) > 0 {
		entry.Error = result.Errors[0].Message
	}
	if err := e.stageLogger.LogStage(ctx, entry); err != nil {
		logger.Error("failed to log stage", "error", err)
	}
	return result
}

// process invokes one agent, normalizing panics, Go errors, and timing onto
// the StageResult.
func (e *Engine) process(ctx context.Context, agent Agent, input *StageInput, logger *slog.Logger) (result *StageResult) {
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent panicked", "agent", agent.Name(), "panic", r)
			result = FailedResult(input.Stage, input.Attempt, ErrorTagDomain, "panic", fmt.Sprintf("agent %s panicked: %v", agent.Name(), r))
		}
		result.Stage = input.Stage
		result.Attempt = input.Attempt
		result.StartTime = startTime
		result.EndTime = time.Now()
	}()

	res, err := agent.Process(ctx, input)
	if err != nil {
		classified := Classify(err)
		tag := ErrorTagDomain
		if classified.Kind == KindInfrastructure {
			tag = ErrorTagInfrastructure
		}
		return FailedResult(input.Stage, input.Attempt, tag, classified.Kind, err.Error())
	}
	if res == nil {
		return FailedResult(input.Stage, input.Attempt, ErrorTagDomain, "empty_result", fmt.Sprintf("agent %s returned no result", agent.Name()))
	}
	return res
}

// stageInput assembles the accumulated context for one agent invocation.
func (e *Engine) stageInput(job *Job, state *WorkflowState, stage Stage, attempt int) *StageInput {
	prior := map[Stage]*StageResult{}
	for _, result := range state.CompletedResults() {
		prior[result.Stage] = result
	}
	return &StageInput{
		CorrelationID:  state.CorrelationID,
		Stage:          stage,
		Variant:        state.Variant,
		DocumentRef:    state.DocumentRef,
		Attempt:        attempt,
		RawInput:       copyMap(job.RawInput),
		Prior:          prior,
		CorrectedInput: copyMap(state.CorrectedInputs[stage]),
	}
}

// fail marks the workflow terminally failed, tagged to the original failing
// stage.
func (e *Engine) fail(ctx context.Context, state *WorkflowState, sequence *int, failing Stage, logger *slog.Logger) error {
	state.Status = WorkflowStatusFailed
	state.CurrentStage = StageFailed
	state.FailedStage = failing
	state.EndTime = time.Now()
	if errs := state.StageErrors(failing); len(errs) > 0 {
		state.ErrorMessage = errs[len(errs)-1].Message
	} else {
		state.ErrorMessage = fmt.Sprintf("stage %s failed", failing)
	}
	logger.Error("workflow failed", "stage", failing, "error", state.ErrorMessage)
	return e.saveCheckpoint(ctx, state, sequence, failing, ReasonFinal)
}

func (e *Engine) finishCompleted(state *WorkflowState, logger *slog.Logger) {
	state.Status = WorkflowStatusCompleted
	state.EndTime = time.Now()
	logger.Info("workflow completed",
		"overall_confidence", state.OverallConfidence(),
		"review_required", state.ReviewRequired)
}

// saveCheckpoint persists a snapshot. A write failure is fatal to this
// execution attempt; the queue adapter's retry governs re-delivery from the
// last good checkpoint.
func (e *Engine) saveCheckpoint(ctx context.Context, state *WorkflowState, sequence *int, stage Stage, reason CheckpointReason) error {
	*sequence++
	checkpoint := &Checkpoint{
		CorrelationID: state.CorrelationID,
		Sequence:      *sequence,
		Stage:         stage,
		Reason:        reason,
		State:         state.Copy(),
		CreatedAt:     time.Now(),
	}
	if err := e.checkpointer.Save(ctx, checkpoint); err != nil {
		return NewCheckpointError(stage, err)
	}
	return nil
}

// wait sleeps for the given delay or until the context is done.
func (e *Engine) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
