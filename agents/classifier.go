package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docflow-ai/docflow"
	"github.com/docflow-ai/docflow/provider"
)

// DefaultDocumentTypes is the closed set of categories the classifier chooses
// from when no custom set is configured.
var DefaultDocumentTypes = []string{
	"invoice",
	"receipt",
	"contract",
	"application_form",
	"tax_form",
	"identity_document",
	"other",
}

const classifierSystemPrompt = `You classify a document into exactly one category from:
%s

Set confidence between 0 and 1.

Respond with JSON only (no markdown):
{"document_type": "invoice", "confidence": 0.93, "reasoning": "..."}`

// Classifier determines the document type, the first pipeline stage.
type Classifier struct {
	provider provider.Provider
	types    []string
}

func NewClassifier(p provider.Provider, types []string) *Classifier {
	if len(types) == 0 {
		types = DefaultDocumentTypes
	}
	return &Classifier{provider: p, types: types}
}

func (c *Classifier) Name() string {
	return "classifier"
}

func (c *Classifier) Process(ctx context.Context, input *docflow.StageInput) (*docflow.StageResult, error) {
	text := documentText(input)
	if text == "" {
		return failedDomain(input, "empty_document", "no document text in raw input"), nil
	}

	var typeLines strings.Builder
	for _, t := range c.types {
		typeLines.WriteString("- " + t + "\n")
	}
	request := &provider.Request{
		System: fmt.Sprintf(classifierSystemPrompt, typeLines.String()),
		Prompt: withFormatHint(input, "Classify this document:\n\n"+text),
	}

	response, err := c.provider.Invoke(ctx, request)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		DocumentType string  `json:"document_type"`
		Confidence   float64 `json:"confidence"`
		Reasoning    string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(provider.StripFences(response.Output)), &parsed); err != nil {
		return failedDomain(input, "parse_error", fmt.Sprintf("unparseable classifier response: %v", err)), nil
	}
	if !c.knownType(parsed.DocumentType) {
		return failedDomain(input, "unknown_type", fmt.Sprintf("classifier returned unknown type %q", parsed.DocumentType)), nil
	}

	return &docflow.StageResult{
		Stage:      input.Stage,
		Status:     docflow.StatusSuccess,
		Confidence: clamp01(parsed.Confidence),
		Payload: map[string]any{
			"document_type": parsed.DocumentType,
			"reasoning":     parsed.Reasoning,
		},
	}, nil
}

func (c *Classifier) knownType(documentType string) bool {
	for _, t := range c.types {
		if t == documentType {
			return true
		}
	}
	return false
}

// documentText extracts the document body from the job's raw input.
func documentText(input *docflow.StageInput) string {
	if text, ok := input.RawInput["text"].(string); ok {
		return text
	}
	return ""
}

// withFormatHint appends any recovery-produced format hint to the prompt.
func withFormatHint(input *docflow.StageInput, prompt string) string {
	if hint, ok := input.CorrectedInput["format_hint"].(string); ok && hint != "" {
		return prompt + "\n\n" + hint
	}
	return prompt
}

func failedDomain(input *docflow.StageInput, code, message string) *docflow.StageResult {
	return docflow.FailedResult(input.Stage, input.Attempt, docflow.ErrorTagDomain, code, message)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
