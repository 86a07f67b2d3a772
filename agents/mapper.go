package agents

import (
	"context"
	"log/slog"

	"github.com/docflow-ai/docflow"
)

// Mapper maps extracted document fields onto the target form schema using the
// hybrid field matcher. It is fully deterministic: no provider call.
type Mapper struct {
	mapper *FieldMapper
}

func NewMapper(config MapperConfig, logger *slog.Logger) *Mapper {
	return &Mapper{mapper: NewFieldMapper(config, logger)}
}

func (m *Mapper) Name() string {
	return "mapper"
}

func (m *Mapper) Process(ctx context.Context, input *docflow.StageInput) (*docflow.StageResult, error) {
	extraction, ok := input.Prior[docflow.StageExtraction]
	if !ok {
		return failedDomain(input, "missing_extraction", "no extraction result available"), nil
	}
	docFields := decodeDocumentFields(extraction.Payload["fields"])
	if len(docFields) == 0 {
		return failedDomain(input, "no_fields", "extraction produced no usable fields"), nil
	}
	formFields := decodeFormFields(input.RawInput["form_schema"])
	if len(formFields) == 0 {
		return failedDomain(input, "missing_schema", "no form schema in raw input"), nil
	}

	mappings := m.mapper.MapFields(docFields, formFields)

	valuesBySource := map[string]any{}
	for _, f := range docFields {
		valuesBySource[f.Name] = f.Value
	}
	mapped := map[string]any{}
	mappedTargets := map[string]bool{}
	mappingDetails := make([]any, 0, len(mappings))
	var confidenceSum float64
	for _, mapping := range mappings {
		mapped[mapping.TargetField] = valuesBySource[mapping.SourceField]
		mappedTargets[mapping.TargetField] = true
		confidenceSum += mapping.Confidence
		mappingDetails = append(mappingDetails, map[string]any{
			"source_field": mapping.SourceField,
			"target_field": mapping.TargetField,
			"confidence":   mapping.Confidence,
			"type":         string(mapping.Type),
			"strategy":     string(mapping.Strategy),
		})
	}

	var unmappedRequired []string
	requiredTotal := 0
	for _, f := range formFields {
		if !f.Required {
			continue
		}
		requiredTotal++
		if !mappedTargets[f.Name] {
			unmappedRequired = append(unmappedRequired, f.Name)
		}
	}

	if len(mappings) == 0 {
		return failedDomain(input, "no_mappings", "no field mapping cleared the confidence floor"), nil
	}

	// Confidence blends mapping quality with required-field coverage, so a
	// few strong matches cannot mask a missing required field.
	meanConfidence := confidenceSum / float64(len(mappings))
	coverage := 1.0
	if requiredTotal > 0 {
		coverage = float64(requiredTotal-len(unmappedRequired)) / float64(requiredTotal)
	}
	confidence := meanConfidence * (0.5 + 0.5*coverage)

	status := docflow.StatusSuccess
	if len(unmappedRequired) > 0 {
		status = docflow.StatusPartial
	}

	payload := map[string]any{
		"fields":   mapped,
		"mappings": mappingDetails,
	}
	if len(unmappedRequired) > 0 {
		unmapped := make([]any, len(unmappedRequired))
		for i, name := range unmappedRequired {
			unmapped[i] = name
		}
		payload["unmapped_required"] = unmapped
	}

	return &docflow.StageResult{
		Stage:      input.Stage,
		Status:     status,
		Confidence: clamp01(confidence),
		Payload:    payload,
	}, nil
}

// decodeDocumentFields accepts both live []DocumentField values and the
// []any/map form the payload takes after a checkpoint round-trip.
func decodeDocumentFields(raw any) []DocumentField {
	switch v := raw.(type) {
	case []DocumentField:
		return v
	case []any:
		var out []DocumentField
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			field := DocumentField{Value: entry["value"]}
			if name, ok := entry["name"].(string); ok {
				field.Name = name
			}
			if fieldType, ok := entry["type"].(string); ok {
				field.Type = FieldType(fieldType)
			}
			if field.Name != "" {
				out = append(out, field)
			}
		}
		return out
	}
	return nil
}

// decodeFormFields accepts the form schema as []FormField or its JSON shape.
func decodeFormFields(raw any) []FormField {
	switch v := raw.(type) {
	case []FormField:
		return v
	case []any:
		var out []FormField
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			var field FormField
			if name, ok := entry["name"].(string); ok {
				field.Name = name
			}
			if fieldType, ok := entry["type"].(string); ok {
				field.Type = FieldType(fieldType)
			}
			if required, ok := entry["required"].(bool); ok {
				field.Required = required
			}
			if field.Name != "" {
				out = append(out, field)
			}
		}
		return out
	}
	return nil
}
