package docflow

import "fmt"

// Thresholds is the confidence policy consulted after each successful stage.
type Thresholds struct {
	// AutoApprove is the confidence at or above which a result advances
	// without any flag.
	AutoApprove float64 `json:"auto_approve" yaml:"auto_approve"`

	// Warning is the confidence at or above which a result still advances
	// but flags the workflow for downstream manual review. Below it, the
	// workflow completes in the review-required sub-state.
	Warning float64 `json:"warning" yaml:"warning"`
}

// DefaultThresholds returns the standard routing policy.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoApprove: 0.85, Warning: 0.70}
}

// Validate rejects malformed policies.
func (t Thresholds) Validate() error {
	if t.AutoApprove < 0 || t.AutoApprove > 1 {
		return fmt.Errorf("auto approve threshold %v out of range [0,1]", t.AutoApprove)
	}
	if t.Warning < 0 || t.Warning > 1 {
		return fmt.Errorf("warning threshold %v out of range [0,1]", t.Warning)
	}
	if t.Warning > t.AutoApprove {
		return fmt.Errorf("warning threshold %v exceeds auto approve threshold %v", t.Warning, t.AutoApprove)
	}
	return nil
}

// Decision is the routing outcome for one stage result.
type Decision string

const (
	// DecisionAdvance moves to the next stage with no flag.
	DecisionAdvance Decision = "advance"

	// DecisionAdvanceFlagged moves to the next stage and flags the workflow
	// for manual review without blocking completion.
	DecisionAdvanceFlagged Decision = "advance_flagged"

	// DecisionRetry re-attempts the same stage.
	DecisionRetry Decision = "retry"

	// DecisionRequireReview completes the workflow in the review-required
	// sub-state rather than fully complete.
	DecisionRequireReview Decision = "require_review"

	// DecisionFail marks the workflow failed without further retries.
	DecisionFail Decision = "fail"
)

// Decide maps one stage result and a policy to a routing decision. It is a
// pure function: no side effects, fully deterministic for the same inputs.
func Decide(result *StageResult, policy Thresholds) Decision {
	switch result.Status {
	case StatusFailed:
		for _, e := range result.Errors {
			if e.Code == KindFatal {
				return DecisionFail
			}
		}
		return DecisionRetry
	case StatusSuccess, StatusPartial:
		switch {
		case result.Confidence >= policy.AutoApprove:
			return DecisionAdvance
		case result.Confidence >= policy.Warning:
			return DecisionAdvanceFlagged
		default:
			return DecisionRequireReview
		}
	default:
		return DecisionFail
	}
}
