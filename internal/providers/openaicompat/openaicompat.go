// Package openaicompat provides a generic OpenAI-compatible LLM adapter.
// Use it for any vendor that implements the OpenAI chat completions API
// (DeepSeek, Moonshot, and the DashScope compatible-mode endpoint).
package openaicompat

import (
	"context"
	"errors"
	"fmt"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/storyflow/ai-gateway/internal/providers"
)

// Provider is a configurable OpenAI-compatible LLM adapter.
type Provider struct {
	name         string
	defaultModel string
	client       openaiSDK.Client
}

// New creates an OpenAI-compatible adapter.
//
//   - name         — unique provider identifier used for routing and logs.
//   - apiKey       — API key sent as "Authorization: Bearer <key>".
//   - baseURL      — API base URL, e.g. "https://api.deepseek.com/v1".
//   - defaultModel — model used when the request does not name one.
func New(name, apiKey, baseURL, defaultModel string) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Provider{
		name:         name,
		defaultModel: defaultModel,
		client:       openaiSDK.NewClient(opts...),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) CheckHealth(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%s: health check: %w", p.name, p.toProviderError(err))
	}
	return nil
}

func (p *Provider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (string, error) {
	params := p.buildParams(req)

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.toProviderError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &providers.CallError{Provider: p.name, Message: "empty completion"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) buildParams(req *providers.ChatRequest) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    model,
	}

	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = openaiSDK.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	return params
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch role {
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}

// toProviderError converts SDK errors into the gateway's typed errors so the
// façade's fallback loop can classify them.
func (p *Provider) toProviderError(err error) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		return &providers.CallError{
			Provider: p.name,
			Status:   apiErr.StatusCode,
			Message:  apiErr.Error(),
		}
	}
	return err
}
