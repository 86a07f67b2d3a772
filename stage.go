package docflow

import "fmt"

// Stage identifies a processing stage in the document pipeline.
type Stage string

const (
	StageClassification Stage = "classification"
	StageExtraction     Stage = "extraction"
	StageMapping        Stage = "mapping"
	StageValidation     Stage = "validation"
	StageErrorRecovery  Stage = "error_recovery"
	StageComplete       Stage = "complete"
	StageFailed         Stage = "failed"
)

// PipelineStages is the fixed sequence of processing stages. The pipeline is
// closed: stages are known at compile time and there is no plugin registration.
var PipelineStages = []Stage{
	StageClassification,
	StageExtraction,
	StageMapping,
	StageValidation,
}

// NextStage returns the stage that follows s in the pipeline order. It returns
// StageComplete after the final processing stage and false for stages that are
// not part of the forward sequence.
func NextStage(s Stage) (Stage, bool) {
	for i, stage := range PipelineStages {
		if stage != s {
			continue
		}
		if i == len(PipelineStages)-1 {
			return StageComplete, true
		}
		return PipelineStages[i+1], true
	}
	return "", false
}

// StageIndex returns the position of s in the pipeline order, or -1 for
// terminal and recovery stages.
func StageIndex(s Stage) int {
	for i, stage := range PipelineStages {
		if stage == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether s permits no further transitions.
func IsTerminal(s Stage) bool {
	return s == StageComplete || s == StageFailed
}

// ValidStage reports whether s names a known stage.
func ValidStage(s Stage) bool {
	switch s {
	case StageClassification, StageExtraction, StageMapping, StageValidation,
		StageErrorRecovery, StageComplete, StageFailed:
		return true
	}
	return false
}

func (s Stage) String() string { return string(s) }

// ParseStage converts a string into a Stage, rejecting unknown names.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !ValidStage(s) {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}
