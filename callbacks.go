package docflow

import (
	"context"
	"time"
)

// ExecutionCallbacks is the hook interface for workflow execution events.
// Implementations must be fast and must not block the engine.
type ExecutionCallbacks interface {
	// Workflow-level callbacks
	BeforeWorkflow(ctx context.Context, event *WorkflowEvent)
	AfterWorkflow(ctx context.Context, event *WorkflowEvent)

	// Stage-level callbacks, fired per agent invocation
	BeforeStage(ctx context.Context, event *StageEvent)
	AfterStage(ctx context.Context, event *StageEvent)
}

// WorkflowEvent provides context for workflow-level execution events.
type WorkflowEvent struct {
	CorrelationID     string
	Variant           Variant
	Status            WorkflowStatus
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
	OverallConfidence float64
	ReviewRequired    bool
	Error             error
}

// StageEvent provides context for stage-level execution events.
type StageEvent struct {
	CorrelationID string
	Variant       Variant
	Stage         Stage
	AgentName     string
	Attempt       int
	Result        *StageResult
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	Error         error
}

// BaseExecutionCallbacks provides a default implementation that does nothing.
// Embed it to implement only the events you care about.
type BaseExecutionCallbacks struct{}

func (b *BaseExecutionCallbacks) BeforeWorkflow(ctx context.Context, event *WorkflowEvent) {
	// noop
}

func (b *BaseExecutionCallbacks) AfterWorkflow(ctx context.Context, event *WorkflowEvent) {
	// noop
}

func (b *BaseExecutionCallbacks) BeforeStage(ctx context.Context, event *StageEvent) {
	// noop
}

func (b *BaseExecutionCallbacks) AfterStage(ctx context.Context, event *StageEvent) {
	// noop
}

// CallbackChain fans events out to multiple callback implementations in order.
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a chain over the given callbacks.
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add appends a callback to the chain.
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeWorkflow(ctx context.Context, event *WorkflowEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeWorkflow(ctx, event)
	}
}

func (c *CallbackChain) AfterWorkflow(ctx context.Context, event *WorkflowEvent) {
	for _, callback := range c.callbacks {
		callback.AfterWorkflow(ctx, event)
	}
}

func (c *CallbackChain) BeforeStage(ctx context.Context, event *StageEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeStage(ctx, event)
	}
}

func (c *CallbackChain) AfterStage(ctx context.Context, event *StageEvent) {
	for _, callback := range c.callbacks {
		callback.AfterStage(ctx, event)
	}
}
