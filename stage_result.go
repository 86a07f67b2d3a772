package docflow

import "time"

// StageStatus represents the outcome reported by an agent invocation.
type StageStatus string

const (
	StatusSuccess StageStatus = "success"
	StatusFailed  StageStatus = "failed"
	StatusPartial StageStatus = "partial"
)

// ErrorTag distinguishes expected domain failures from infrastructure
// failures. The engine retries infrastructure errors with backoff because a
// repeated identical attempt may succeed once the provider recovers; domain
// errors are retried immediately and then escalated.
type ErrorTag string

const (
	ErrorTagDomain         ErrorTag = "domain"
	ErrorTagInfrastructure ErrorTag = "infrastructure"
)

// StageError describes one failure reported by an agent. Agents must not
// return Go errors for expected domain conditions; they populate Errors on a
// failed StageResult instead.
type StageError struct {
	Tag     ErrorTag `json:"tag"`
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message"`
}

func (e StageError) Error() string {
	return string(e.Tag) + ": " + e.Message
}

// StageResult is the immutable output of one agent invocation. A retried stage
// produces a new StageResult rather than mutating a prior one, so the full
// attempt history remains available for audit.
type StageResult struct {
	Stage      Stage          `json:"stage"`
	Status     StageStatus    `json:"status"`
	Confidence float64        `json:"confidence"`
	Payload    map[string]any `json:"payload,omitempty"`
	Errors     []StageError   `json:"errors,omitempty"`
	Attempt    int            `json:"attempt"`
	StartTime  time.Time      `json:"start_time,omitzero"`
	EndTime    time.Time      `json:"end_time,omitzero"`
}

// Succeeded reports whether the result advances the pipeline.
func (r *StageResult) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartial
}

// InfrastructureFailure reports whether every recorded error is
// infrastructure-tagged, meaning the same attempt may be repeated unchanged.
func (r *StageResult) InfrastructureFailure() bool {
	if len(r.Errors) == 0 {
		return false
	}
	for _, e := range r.Errors {
		if e.Tag != ErrorTagInfrastructure {
			return false
		}
	}
	return true
}

// Duration returns the wall time of the agent invocation.
func (r *StageResult) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Copy returns a shallow copy with its own payload and error slices, so the
// original remains immutable to callers.
func (r *StageResult) Copy() *StageResult {
	cp := *r
	cp.Payload = copyMap(r.Payload)
	if r.Errors != nil {
		cp.Errors = make([]StageError, len(r.Errors))
		copy(cp.Errors, r.Errors)
	}
	return &cp
}

// FailedResult builds a failed StageResult from a single error descriptor.
func FailedResult(stage Stage, attempt int, tag ErrorTag, code, message string) *StageResult {
	return &StageResult{
		Stage:   stage,
		Status:  StatusFailed,
		Attempt: attempt,
		Errors:  []StageError{{Tag: tag, Code: code, Message: message}},
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
