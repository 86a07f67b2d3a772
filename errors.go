package docflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Error kind constants for classification and matching.
const (
	// KindValidation indicates the job failed structural checks before stage
	// one. Not retried at any level.
	KindValidation = "validation_error"

	// KindStage indicates an agent reported a recoverable domain failure.
	// Retried up to the per-stage ceiling, then routed to error recovery.
	KindStage = "stage_error"

	// KindInfrastructure indicates a provider timeout or unavailability.
	// Retried with exponential backoff since a repeated identical attempt
	// may succeed once the provider recovers.
	KindInfrastructure = "infrastructure_error"

	// KindCheckpoint indicates a checkpoint write failed. Fatal to the
	// current execution attempt; the queue adapter's own retry governs
	// re-delivery, resuming from the last good checkpoint.
	KindCheckpoint = "checkpoint_error"

	// KindFatal indicates an error that must never be retried. Unknown
	// errors default to KindStage so they remain retryable; an error known
	// to be unretryable must carry KindFatal explicitly.
	KindFatal = "fatal_error"
)

// PipelineError is a structured error with a classification kind. It supports
// Go's error wrapping with Unwrap.
type PipelineError struct {
	Kind    string `json:"kind"`
	Stage   Stage  `json:"stage,omitempty"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *PipelineError) Unwrap() error {
	return e.Wrapped
}

// NewPipelineError creates a PipelineError with the given kind and cause.
func NewPipelineError(kind string, stage Stage, cause string) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Cause: cause}
}

// NewValidationError creates a validation error for job intake checks.
func NewValidationError(cause string) *PipelineError {
	return &PipelineError{Kind: KindValidation, Cause: cause}
}

// NewCheckpointError wraps a store failure so the worker can surface it as a
// retryable job failure.
func NewCheckpointError(stage Stage, err error) *PipelineError {
	return &PipelineError{Kind: KindCheckpoint, Stage: stage, Cause: err.Error(), Wrapped: err}
}

// Classify converts an arbitrary error into a PipelineError. Timeouts,
// cancellations and common transport failures classify as infrastructure;
// everything else defaults to a stage error so it stays retryable.
func Classify(err error) *PipelineError {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr
	}
	if IsInfrastructure(err) {
		return &PipelineError{Kind: KindInfrastructure, Cause: err.Error(), Wrapped: err}
	}
	return &PipelineError{Kind: KindStage, Cause: err.Error(), Wrapped: err}
}

// MatchesKind checks whether an error classifies to the given kind. Fatal
// errors match only KindFatal.
func MatchesKind(err error, kind string) bool {
	classified := Classify(err)
	if classified.Kind == KindFatal {
		return kind == KindFatal
	}
	return classified.Kind == kind
}

// IsRetryableJobFailure reports whether the queue adapter should redeliver the
// job rather than record a hard failure. Checkpoint and infrastructure
// failures are retryable because the last good checkpoint is preserved.
func IsRetryableJobFailure(err error) bool {
	switch Classify(err).Kind {
	case KindCheckpoint, KindInfrastructure:
		return true
	}
	return false
}

// IsInfrastructure applies heuristics to detect transient transport and
// provider failures.
func IsInfrastructure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation is intentional, not a provider outage.
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return IsInfrastructure(urlErr.Err)
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"rate limit",
		"service unavailable",
		"overloaded",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
