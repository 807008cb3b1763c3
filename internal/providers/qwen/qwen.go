// Package qwen implements the LLM contract against the Alibaba Cloud
// DashScope text-generation API (Tongyi Qianwen).
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel   = "qwen-plus"
	providerName   = "qwen"
)

type chatRequest struct {
	Model      string     `json:"model"`
	Input      chatInput  `json:"input"`
	Parameters chatParams `json:"parameters"`
}

type chatInput struct {
	Messages []providers.Message `json:"messages"`
}

type chatParams struct {
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	ResultFormat string  `json:"result_format"`
}

type chatResponse struct {
	Output struct {
		Text    string `json:"text"`
		Choices []struct {
			Message providers.Message `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type Option func(*Provider)

func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := req.Messages
	if req.JSONMode {
		messages = withJSONInstruction(messages)
	}

	body := chatRequest{
		Model: model,
		Input: chatInput{Messages: messages},
		Parameters: chatParams{
			Temperature:  req.Temperature,
			MaxTokens:    req.MaxTokens,
			ResultFormat: "message",
		},
	}

	var out chatResponse
	if err := p.post(ctx, "/services/aigc/text-generation/generation", body, &out); err != nil {
		return "", err
	}

	if len(out.Output.Choices) > 0 {
		return out.Output.Choices[0].Message.Content, nil
	}
	// Some models answer with the plain-text response shape.
	if out.Output.Text != "" {
		return out.Output.Text, nil
	}

	return "", &providers.CallError{Provider: providerName, Message: "empty completion: " + out.Message}
}

// CheckHealth issues a minimal one-token completion. DashScope has no cheap
// model-listing endpoint on the native API.
func (p *Provider) CheckHealth(ctx context.Context) error {
	_, err := p.ChatCompletion(ctx, &providers.ChatRequest{
		Messages:  []providers.Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

func (p *Provider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("qwen: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("qwen: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("qwen: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qwen: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &providers.CallError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  truncate(string(data), 200),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("qwen: decode response: %w", err)
	}

	return nil
}

// withJSONInstruction appends a JSON-output instruction to the system prompt,
// inserting one when the conversation has none. DashScope's native API has no
// response_format parameter.
func withJSONInstruction(messages []providers.Message) []providers.Message {
	const instruction = "Respond with a valid JSON object only."

	out := make([]providers.Message, len(messages))
	copy(out, messages)

	if len(out) > 0 && out[0].Role == "system" {
		out[0].Content += "\n\n" + instruction
		return out
	}
	return append([]providers.Message{{Role: "system", Content: instruction}}, out...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
