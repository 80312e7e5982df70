package decision

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// llmBackend is the narrow surface both LLM tiers present to the engine,
// so decision logic never imports either SDK directly - the same
// separation catalyst-api keeps between its TranscodeProvider interface
// and the concrete MediaConvert/external implementations.
type llmBackend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicOptions configures the primary LLM backend.
type AnthropicOptions struct {
	APIKey string
	Model  string
}

type anthropicBackend struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicBackend(opts AnthropicOptions) llmBackend {
	client := anthropic.NewClient(option.WithAPIKey(opts.APIKey))
	return &anthropicBackend{client: client, model: opts.Model}
}

func (b *anthropicBackend) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(b.model),
		MaxTokens: anthropic.F(int64(1024)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("anthropic completion returned no content blocks")
	}
	return msg.Content[0].Text, nil
}
