// Package llm turns page markdown into structured event extractions. It
// hides the provider wire formats behind a single Complete call and layers
// retry, rate limiting, and response-parse recovery on top.
package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/expand-cli/pkg/anthropic"
	"github.com/sells-group/expand-cli/pkg/openai"
)

// Completion is one provider response reduced to what the pipeline needs.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider abstracts one chat-completion backend.
type Provider interface {
	Complete(ctx context.Context, prompt string, maxOutputTokens int) (*Completion, error)
}

// openaiProvider adapts the OpenAI-compatible client.
type openaiProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider wraps an OpenAI-compatible client as a Provider.
func NewOpenAIProvider(client openai.Client, model string) Provider {
	return &openaiProvider{client: client, model: model}
}

func (p *openaiProvider) Complete(ctx context.Context, prompt string, maxOutputTokens int) (*Completion, error) {
	temp := 0.0
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    []openai.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	}
	if maxOutputTokens > 0 {
		req.MaxTokens = &maxOutputTokens
	}

	resp, err := p.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("llm: completion returned no choices")
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// anthropicProvider adapts the Anthropic Messages client.
type anthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider wraps an Anthropic client as a Provider.
func NewAnthropicProvider(client anthropic.Client, model string) Provider {
	return &anthropicProvider{client: client, model: model}
}

func (p *anthropicProvider) Complete(ctx context.Context, prompt string, maxOutputTokens int) (*Completion, error) {
	temp := 0.0
	if maxOutputTokens <= 0 {
		maxOutputTokens = 4096
	}

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   int64(maxOutputTokens),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}

	return &Completion{
		Text:         resp.Text(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
