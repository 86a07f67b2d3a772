// Package agents provides the stage agents of the document pipeline:
// classification and extraction call a model provider, mapping and validation
// are deterministic, and recovery re-arms exhausted stages.
package agents

import (
	"log/slog"

	"github.com/docflow-ai/docflow"
	"github.com/docflow-ai/docflow/provider"
)

// RegistryOptions configures the full agent set for one pipeline variant.
type RegistryOptions struct {
	Provider        provider.Provider
	DocumentTypes   []string
	Mapper          MapperConfig
	ValidationRules map[string]string
	Logger          *slog.Logger
}

// NewRegistry builds a complete agent registry covering every pipeline stage.
func NewRegistry(opts RegistryOptions) (docflow.AgentRegistry, error) {
	if opts.Provider == nil {
		return nil, docflow.NewValidationError("provider is required")
	}
	if opts.Mapper == (MapperConfig{}) {
		opts.Mapper = DefaultMapperConfig()
	}
	validator, err := NewValidator(opts.ValidationRules)
	if err != nil {
		return nil, err
	}
	return docflow.AgentRegistry{
		docflow.StageClassification: NewClassifier(opts.Provider, opts.DocumentTypes),
		docflow.StageExtraction:     NewExtractor(opts.Provider),
		docflow.StageMapping:        NewMapper(opts.Mapper, opts.Logger),
		docflow.StageValidation:     validator,
		docflow.StageErrorRecovery:  NewRecovery(),
	}, nil
}
