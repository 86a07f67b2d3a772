package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/docflow-ai/docflow"
	"github.com/docflow-ai/docflow/script"
)

// Validator checks the mapped fields against structural constraints and
// configured rule expressions. Rules are compiled once at construction and
// evaluated per document with the mapped fields bound as globals.
type Validator struct {
	rules []compiledRule
}

type compiledRule struct {
	name   string
	script script.Script
}

// NewValidator compiles the rule expressions. Each rule must evaluate to a
// truthy value for the document to pass it.
func NewValidator(rules map[string]string) (*Validator, error) {
	engine := script.NewRisorEngine(script.DefaultGlobals())

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled := make([]compiledRule, 0, len(rules))
	for _, name := range names {
		s, err := engine.Compile(context.Background(), rules[name])
		if err != nil {
			return nil, fmt.Errorf("failed to compile validation rule %q: %w", name, err)
		}
		compiled = append(compiled, compiledRule{name: name, script: s})
	}
	return &Validator{rules: compiled}, nil
}

func (v *Validator) Name() string {
	return "validator"
}

func (v *Validator) Process(ctx context.Context, input *docflow.StageInput) (*docflow.StageResult, error) {
	mapping, ok := input.Prior[docflow.StageMapping]
	if !ok {
		return failedDomain(input, "missing_mapping", "no mapping result available"), nil
	}
	fields, _ := mapping.Payload["fields"].(map[string]any)
	if len(fields) == 0 {
		return failedDomain(input, "no_fields", "mapping produced no fields to validate"), nil
	}

	var violations []any
	totalChecks := 0

	// Structural checks: required coverage and type plausibility.
	totalChecks++
	if unmapped, ok := mapping.Payload["unmapped_required"].([]any); ok && len(unmapped) > 0 {
		violations = append(violations, map[string]any{
			"check":  "required_fields",
			"detail": fmt.Sprintf("%d required fields unmapped", len(unmapped)),
		})
	}
	for _, detail := range decodeMappingDetails(mapping.Payload["mappings"]) {
		totalChecks++
		value, ok := fields[detail.target]
		if !ok {
			continue
		}
		if !CheckFieldType(detail.fieldType, value) {
			violations = append(violations, map[string]any{
				"check":  "field_type",
				"field":  detail.target,
				"detail": fmt.Sprintf("value %v does not look like %s", value, detail.fieldType),
			})
		}
	}

	// Rule checks.
	globals := map[string]any{
		"fields":   fields,
		"document": input.RawInput,
	}
	for _, rule := range v.rules {
		totalChecks++
		value, err := rule.script.Evaluate(ctx, globals)
		if err != nil {
			return failedDomain(input, "rule_error", fmt.Sprintf("validation rule %q failed to evaluate: %v", rule.name, err)), nil
		}
		if !value.IsTruthy() {
			violations = append(violations, map[string]any{
				"check": "rule",
				"rule":  rule.name,
			})
		}
	}

	confidence := 1.0
	if totalChecks > 0 {
		confidence = float64(totalChecks-len(violations)) / float64(totalChecks)
	}
	status := docflow.StatusSuccess
	if len(violations) > 0 {
		status = docflow.StatusPartial
	}

	payload := map[string]any{
		"fields":     fields,
		"checks":     totalChecks,
		"violations": violations,
		"passed":     totalChecks - len(violations),
	}
	return &docflow.StageResult{
		Stage:      input.Stage,
		Status:     status,
		Confidence: clamp01(confidence),
		Payload:    payload,
	}, nil
}

type mappingDetail struct {
	target    string
	fieldType FieldType
}

func decodeMappingDetails(raw any) []mappingDetail {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []mappingDetail
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var detail mappingDetail
		if target, ok := entry["target_field"].(string); ok {
			detail.target = target
		}
		if fieldType, ok := entry["type"].(string); ok {
			detail.fieldType = FieldType(fieldType)
		}
		if detail.target != "" {
			out = append(out, detail)
		}
	}
	return out
}
