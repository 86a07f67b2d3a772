// Package provider abstracts the model backends agents call. Implementations
// return plain text; agents own prompt construction and response parsing.
package provider

import (
	"context"
	"strings"
)

// Request is one model invocation.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int64
}

// Response is the model output plus accounting.
type Response struct {
	Output       string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider is a model backend.
type Provider interface {
	// Name identifies the backend for logging.
	Name() string

	// Invoke performs one model call. Transport failures and timeouts come
	// back as Go errors; the caller classifies them for retry.
	Invoke(ctx context.Context, request *Request) (*Response, error)
}

// StripFences removes a markdown code fence wrapper from model output, a
// common artifact when asking for JSON-only responses.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
