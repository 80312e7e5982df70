package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockOptions configures the fallback LLM backend. Session/credential
// setup follows clients.NewMediaConvertClient's pattern: an explicit
// options struct, constructed once at startup, injected into whatever
// needs it.
type BedrockOptions struct {
	Region  string
	ModelID string
}

type bedrockBackend struct {
	client  *bedrockruntime.Client
	modelID string
}

func NewBedrockBackend(ctx context.Context, opts BedrockOptions) (llmBackend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for bedrock: %w", err)
	}
	return &bedrockBackend{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: opts.ModelID,
	}, nil
}

// anthropicBedrockRequest mirrors the Anthropic-on-Bedrock request body
// shape; Bedrock only hosts a subset of models and this is the one the
// fallback tier targets.
type anthropicBedrockRequest struct {
	AnthropicVersion string                 `json:"anthropic_version"`
	MaxTokens        int                    `json:"max_tokens"`
	Messages         []anthropicBedrockTurn `json:"messages"`
}

type anthropicBedrockTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicBedrockResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (b *bedrockBackend) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicBedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		Messages:         []anthropicBedrockTurn{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &b.modelID,
		ContentType: strPtr("application/json"),
		Accept:      strPtr("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock InvokeModel: %w", err)
	}

	var resp anthropicBedrockResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding bedrock response: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("bedrock response had no content blocks")
	}
	return resp.Content[0].Text, nil
}

func strPtr(s string) *string { return &s }
