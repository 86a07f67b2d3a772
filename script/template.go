package script

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Template is a string with embedded ${...} expressions, compiled once and
// evaluated per invocation. Agents use templates to build provider prompts
// from the document context.
type Template struct {
	raw    string
	parts  []string
	codes  []Script
	engine Compiler
}

var templateExprPattern = regexp.MustCompile(`\${([^}]+)}`)

// NewTemplate compiles every ${...} expression in the raw string.
func NewTemplate(engine Compiler, raw string) (*Template, error) {
	t := &Template{
		raw:    raw,
		engine: engine,
	}

	// Validate that all ${...} expressions are properly closed
	openCount := strings.Count(raw, "${")
	closeCount := strings.Count(raw, "}")
	if openCount > closeCount {
		return nil, fmt.Errorf("unclosed template expression in string: %q", raw)
	}
	if openCount == 0 {
		return t, nil
	}

	matches := templateExprPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return t, nil
	}

	var lastEnd int
	var parts []string
	var codes []Script
	for _, match := range matches {
		if match[0] > lastEnd {
			parts = append(parts, raw[lastEnd:match[0]])
		}

		expr := raw[match[2]:match[3]]
		script, err := engine.Compile(context.Background(), expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template expression %q: %w", expr, err)
		}

		codes = append(codes, script)
		parts = append(parts, "") // Placeholder for the evaluated result
		lastEnd = match[1]
	}

	if lastEnd < len(raw) {
		parts = append(parts, raw[lastEnd:])
	}

	return &Template{
		raw:   raw,
		parts: parts,
		codes: codes,
	}, nil
}

// Eval evaluates every embedded expression and joins the result.
func (t *Template) Eval(ctx context.Context, globals map[string]any) (string, error) {
	if len(t.codes) == 0 {
		return t.raw, nil
	}

	parts := make([]string, len(t.parts))
	copy(parts, t.parts)

	for _, code := range t.codes {
		result, err := code.Evaluate(ctx, globals)
		if err != nil {
			return "", fmt.Errorf("failed to evaluate template expression: %w", err)
		}
		for j := range parts {
			if parts[j] == "" {
				parts[j] = result.String()
				break
			}
		}
	}

	return strings.Join(parts, ""), nil
}
