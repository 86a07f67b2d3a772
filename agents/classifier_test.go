package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/docflow-ai/docflow"
	"github.com/docflow-ai/docflow/provider"
	"github.com/stretchr/testify/require"
)

func classifierInput(text string) *docflow.StageInput {
	input := &docflow.StageInput{
		CorrelationID: "doc_test",
		Stage:         docflow.StageClassification,
		Attempt:       1,
		RawInput:      map[string]any{},
	}
	if text != "" {
		input.RawInput["text"] = text
	}
	return input
}

func TestClassifier(t *testing.T) {
	ctx := context.Background()

	t.Run("classifies into a known type", func(t *testing.T) {
		p := provider.NewStaticProvider("test", "").
			Respond("INVOICE", `{"document_type": "invoice", "confidence": 0.93, "reasoning": "has totals and line items"}`)
		classifier := NewClassifier(p, nil)

		result, err := classifier.Process(ctx, classifierInput("INVOICE #42\nTotal: $100.00"))
		require.NoError(t, err)
		require.Equal(t, docflow.StatusSuccess, result.Status)
		require.InDelta(t, 0.93, result.Confidence, 1e-9)
		require.Equal(t, "invoice", result.Payload["document_type"])
		require.NotEmpty(t, result.Payload["reasoning"])
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		p := provider.NewStaticProvider("test",
			"```json\n{\"document_type\": \"receipt\", \"confidence\": 0.8, \"reasoning\": \"\"}\n```")
		classifier := NewClassifier(p, nil)

		result, err := classifier.Process(ctx, classifierInput("COFFEE 4.50"))
		require.NoError(t, err)
		require.Equal(t, docflow.StatusSuccess, result.Status)
		require.Equal(t, "receipt", result.Payload["document_type"])
	})

	t.Run("empty document fails without calling the provider", func(t *testing.T) {
		p := provider.NewStaticProvider("test", "")
		classifier := NewClassifier(p, nil)

		result, err := classifier.Process(ctx, classifierInput(""))
		require.NoError(t, err)
		require.Equal(t, docflow.StatusFailed, result.Status)
		require.Equal(t, "empty_document", result.Errors[0].Code)
		require.Zero(t, p.Calls())
	})

	t.Run("unparseable response is a domain failure", func(t *testing.T) {
		p := provider.NewStaticProvider("test", "I think this is an invoice.")
		classifier := NewClassifier(p, nil)

		result, err := classifier.Process(ctx, classifierInput("some text"))
		require.NoError(t, err)
		require.Equal(t, docflow.StatusFailed, result.Status)
		require.Equal(t, "parse_error", result.Errors[0].Code)
	})

	t.Run("unknown type is a domain failure", func(t *testing.T) {
		p := provider.NewStaticProvider("test", `{"document_type": "screenplay", "confidence": 0.9}`)
		classifier := NewClassifier(p, nil)

		result, err := classifier.Process(ctx, classifierInput("FADE IN:"))
		require.NoError(t, err)
		require.Equal(t, docflow.StatusFailed, result.Status)
		require.Equal(t, "unknown_type", result.Errors[0].Code)
	})

	t.Run("custom type set", func(t *testing.T) {
		p := provider.NewStaticProvider("test", `{"document_type": "purchase_order", "confidence": 0.85}`)
		classifier := NewClassifier(p, []string{"purchase_order", "quote"})

		result, err := classifier.Process(ctx, classifierInput("PO-1234"))
		require.NoError(t, err)
		require.Equal(t, docflow.StatusSuccess, result.Status)
		require.Equal(t, "purchase_order", result.Payload["document_type"])
	})

	t.Run("provider errors propagate for classification upstream", func(t *testing.T) {
		p := provider.NewStaticProvider("test", "").Fail(errors.New("rate limit exceeded"))
		classifier := NewClassifier(p, nil)

		_, err := classifier.Process(ctx, classifierInput("some text"))
		require.Error(t, err)
		require.True(t, docflow.MatchesKind(err, docflow.KindInfrastructure))
	})

	t.Run("confidence is clamped", func(t *testing.T) {
		p := provider.NewStaticProvider("test", `{"document_type": "invoice", "confidence": 1.7}`)
		classifier := NewClassifier(p, nil)

		result, err := classifier.Process(ctx, classifierInput("some text"))
		require.NoError(t, err)
		require.Equal(t, 1.0, result.Confidence)
	})

	t.Run("recovery hint is appended to the prompt", func(t *testing.T) {
		p := provider.NewStaticProvider("test", "").
			Respond("single valid JSON object", `{"document_type": "invoice", "confidence": 0.9}`)
		classifier := NewClassifier(p, nil)

		input := classifierInput("some text")
		input.CorrectedInput = map[string]any{
			"format_hint": "Respond with a single valid JSON object and nothing else.",
		}
		result, err := classifier.Process(ctx, input)
		require.NoError(t, err)
		require.Equal(t, docflow.StatusSuccess, result.Status)
	})
}
