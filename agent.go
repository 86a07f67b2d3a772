package docflow

import "context"

// StageInput carries everything an agent needs for one invocation: the raw
// job input, the latest successful output of each prior stage, and any
// corrected input produced by the recovery agent for this stage.
type StageInput struct {
	CorrelationID  string
	Stage          Stage
	Variant        Variant
	DocumentRef    string
	Attempt        int
	RawInput       map[string]any
	Prior          map[Stage]*StageResult
	CorrectedInput map[string]any

	// For the recovery agent only: the stage that exhausted its retries and
	// its accumulated error history.
	FailingStage Stage
	ErrorHistory []StageError
}

// Agent performs one unit of domain work and reports a confidence-scored
// result. Expected domain failures map to a StatusFailed result with populated
// Errors; a non-nil Go error is reserved for conditions the agent could not
// express as a result, and the engine treats it the same as a failed result.
type Agent interface {
	// Name returns the agent's name for logging and registration.
	Name() string

	// Process runs the agent against the given input.
	Process(ctx context.Context, input *StageInput) (*StageResult, error)
}

// AgentRegistry maps pipeline stages to the agents that serve them. The set is
// closed: the engine rejects a registry missing any pipeline stage.
type AgentRegistry map[Stage]Agent

// AgentFunc adapts a function to the Agent interface.
type AgentFunc struct {
	name string
	fn   func(ctx context.Context, input *StageInput) (*StageResult, error)
}

// NewAgentFunc creates an Agent backed by a function.
func NewAgentFunc(name string, fn func(ctx context.Context, input *StageInput) (*StageResult, error)) *AgentFunc {
	return &AgentFunc{name: name, fn: fn}
}

func (a *AgentFunc) Name() string {
	return a.name
}

func (a *AgentFunc) Process(ctx context.Context, input *StageInput) (*StageResult, error) {
	return a.fn(ctx, input)
}
