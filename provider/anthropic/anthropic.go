// Package anthropic implements the provider interface over the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/docflow-ai/docflow/provider"
)

const defaultModel = "claude-sonnet-4-5-20250929"
const defaultMaxTokens = 4096

// Options configures a Client.
type Options struct {
	APIKey string
	Model  string
}

// Client calls the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a client. An empty API key falls back to the SDK's environment
// lookup.
func New(opts Options) *Client {
	var requestOpts []option.RequestOption
	if opts.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client: anthropic.NewClient(requestOpts...),
		model:  model,
	}
}

func (c *Client) Name() string {
	return "anthropic:" + c.model
}

func (c *Client) Invoke(ctx context.Context, request *provider.Request) (*provider.Response, error) {
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(request.Prompt)),
		},
	}
	if request.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: request.System, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return &provider.Response{
				Output:       block.Text,
				Model:        c.model,
				InputTokens:  message.Usage.InputTokens,
				OutputTokens: message.Usage.OutputTokens,
			}, nil
		}
	}
	return nil, fmt.Errorf("no text content in anthropic response")
}
