package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StaticProvider returns canned responses matched by prompt substring, with an
// optional fallback. It backs local development and deterministic tests.
type StaticProvider struct {
	mutex     sync.Mutex
	name      string
	responses map[string]string
	fallback  string
	err       error
	calls     int
}

// NewStaticProvider creates a provider with a fixed fallback response.
func NewStaticProvider(name, fallback string) *StaticProvider {
	return &StaticProvider{
		name:      name,
		responses: map[string]string{},
		fallback:  fallback,
	}
}

// Respond registers a canned response for prompts containing the substring.
func (p *StaticProvider) Respond(substring, response string) *StaticProvider {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.responses[substring] = response
	return p
}

// Fail makes every subsequent invocation return the given error.
func (p *StaticProvider) Fail(err error) *StaticProvider {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.err = err
	return p
}

// Calls reports how many invocations occurred.
func (p *StaticProvider) Calls() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.calls
}

func (p *StaticProvider) Name() string {
	return p.name
}

func (p *StaticProvider) Invoke(ctx context.Context, request *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	for substring, response := range p.responses {
		if substring != "" && strings.Contains(request.Prompt, substring) {
			return &Response{Output: response, Model: p.name}, nil
		}
	}
	if p.fallback == "" {
		return nil, fmt.Errorf("no canned response for prompt")
	}
	return &Response{Output: p.fallback, Model: p.name}, nil
}
