package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/docflow-ai/docflow"
	"github.com/docflow-ai/docflow/provider"
)

const extractorSystemPrompt = `You extract structured fields from a %s document.

For each field you can identify, report its name, value, and type.
Types: text, email, phone, date, number, currency, address, name, boolean.
Set confidence between 0 and 1 for the extraction as a whole.

Respond with JSON only (no markdown):
{"fields": [{"name": "invoice_number", "value": "INV-1042", "type": "text"}, ...], "confidence": 0.88}`

// Extractor pulls typed fields out of the document text, guided by the
// classifier's document type.
type Extractor struct {
	provider provider.Provider
}

func NewExtractor(p provider.Provider) *Extractor {
	return &Extractor{provider: p}
}

func (e *Extractor) Name() string {
	return "extractor"
}

func (e *Extractor) Process(ctx context.Context, input *docflow.StageInput) (*docflow.StageResult, error) {
	text := documentText(input)
	if text == "" {
		return failedDomain(input, "empty_document", "no document text in raw input"), nil
	}

	documentType := "generic"
	if classification, ok := input.Prior[docflow.StageClassification]; ok {
		if dt, ok := classification.Payload["document_type"].(string); ok && dt != "" {
			documentType = dt
		}
	}

	request := &provider.Request{
		System: fmt.Sprintf(extractorSystemPrompt, documentType),
		Prompt: withFormatHint(input, "Extract fields from this document:\n\n"+text),
	}
	response, err := e.provider.Invoke(ctx, request)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Fields     []DocumentField `json:"fields"`
		Confidence float64         `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(provider.StripFences(response.Output)), &parsed); err != nil {
		return failedDomain(input, "parse_error", fmt.Sprintf("unparseable extractor response: %v", err)), nil
	}
	if len(parsed.Fields) == 0 {
		return failedDomain(input, "no_fields", "extractor found no fields"), nil
	}

	fields := make([]any, 0, len(parsed.Fields))
	for _, f := range parsed.Fields {
		if f.Type == "" {
			f.Type = InferTypeFromName(f.Name)
		}
		fields = append(fields, map[string]any{
			"name":  f.Name,
			"value": f.Value,
			"type":  string(f.Type),
		})
	}

	return &docflow.StageResult{
		Stage:      input.Stage,
		Status:     docflow.StatusSuccess,
		Confidence: clamp01(parsed.Confidence),
		Payload: map[string]any{
			"document_type": documentType,
			"fields":        fields,
		},
	}, nil
}
