package agents

import (
	"context"
	"fmt"

	"github.com/docflow-ai/docflow"
)

// Recovery inspects a stage's accumulated failures and either produces a
// corrected input that may let one more attempt succeed, or declines. It is
// deterministic: recovery that itself needs a flaky backend would just move
// the failure around.
type Recovery struct{}

func NewRecovery() *Recovery {
	return &Recovery{}
}

func (r *Recovery) Name() string {
	return "recovery"
}

func (r *Recovery) Process(ctx context.Context, input *docflow.StageInput) (*docflow.StageResult, error) {
	if len(input.ErrorHistory) == 0 {
		return failedDomain(input, "no_errors", "nothing to recover from"), nil
	}

	// Infrastructure failures already got their backoff retries; re-arming
	// the stage with the same input would not change the outcome.
	if allInfrastructure(input.ErrorHistory) {
		return failedDomain(input, "unrecoverable",
			fmt.Sprintf("stage %s failed on infrastructure only", input.FailingStage)), nil
	}

	corrected := correctedInput(input)
	if corrected == nil {
		last := input.ErrorHistory[len(input.ErrorHistory)-1]
		return failedDomain(input, "unrecoverable",
			fmt.Sprintf("no correction known for %s failure %q", input.FailingStage, last.Code)), nil
	}

	return &docflow.StageResult{
		Stage:      input.Stage,
		Status:     docflow.StatusSuccess,
		Confidence: 1.0,
		Payload: map[string]any{
			"failing_stage":   string(input.FailingStage),
			"corrected_input": corrected,
		},
	}, nil
}

// correctedInput maps known failure codes to input adjustments.
func correctedInput(input *docflow.StageInput) map[string]any {
	codes := map[string]bool{}
	for _, e := range input.ErrorHistory {
		codes[e.Code] = true
	}

	switch {
	case codes["parse_error"]:
		// The model wrapped or malformed its JSON; tighten the instruction.
		return map[string]any{
			"format_hint": "Respond with a single valid JSON object and nothing else. No markdown, no code fences, no commentary.",
		}
	case codes["unknown_type"]:
		return map[string]any{
			"format_hint": "The document_type must be copied verbatim from the provided category list.",
		}
	case codes["no_fields"] && input.FailingStage == docflow.StageExtraction:
		return map[string]any{
			"format_hint": "Extract every field you can find, even low-certainty ones, and reflect uncertainty in the confidence score instead of omitting fields.",
		}
	case codes["panic"] || codes["empty_result"]:
		// A plain re-arm: the agent crashed rather than misbehaved.
		return map[string]any{}
	}
	return nil
}

func allInfrastructure(history []docflow.StageError) bool {
	for _, e := range history {
		if e.Tag != docflow.ErrorTagInfrastructure {
			return false
		}
	}
	return true
}
