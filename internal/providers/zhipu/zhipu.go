// Package zhipu implements the LLM contract against the Zhipu GLM open
// platform. Authentication uses a short-lived HS256 JWT derived from an API
// key of the form "id.secret".
package zhipu

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"
	defaultModel   = "glm-4"
	providerName   = "zhipu"

	tokenTTL = time.Hour
)

type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []providers.Message `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message providers.Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type Provider struct {
	keyID   string
	secret  string
	baseURL string
	model   string
	client  *http.Client
}

type Option func(*Provider)

func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// New creates a Zhipu adapter. apiKey must be "id.secret"; a malformed key is
// rejected here so registration can skip the adapter instead of failing every
// call at runtime.
func New(apiKey string, opts ...Option) (*Provider, error) {
	id, secret, ok := strings.Cut(apiKey, ".")
	if !ok || id == "" || secret == "" {
		return nil, fmt.Errorf("zhipu: api key must have the form \"id.secret\"")
	}

	p := &Provider{
		keyID:   id,
		secret:  secret,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := req.Messages
	if req.JSONMode {
		// The v4 API has no response_format for all models; steer via the
		// system prompt like the compatible-mode vendors do.
		messages = withJSONInstruction(messages)
	}

	body := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("zhipu: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("zhipu: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.signToken(time.Now()))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("zhipu: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("zhipu: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &providers.CallError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  truncate(string(data), 200),
		}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("zhipu: decode response: %w", err)
	}
	if out.Error != nil {
		return "", &providers.CallError{Provider: providerName, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", &providers.CallError{Provider: providerName, Message: "empty completion"}
	}

	return out.Choices[0].Message.Content, nil
}

func (p *Provider) CheckHealth(ctx context.Context) error {
	_, err := p.ChatCompletion(ctx, &providers.ChatRequest{
		Messages:  []providers.Message{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

// signToken builds the HS256 JWT the GLM platform expects:
// header {"alg":"HS256","sign_type":"SIGN"}, claims {api_key, exp, timestamp}.
func (p *Provider) signToken(now time.Time) string {
	header := map[string]any{"alg": "HS256", "sign_type": "SIGN"}
	claims := map[string]any{
		"api_key":   p.keyID,
		"exp":       now.Add(tokenTTL).Unix(),
		"timestamp": now.UnixMilli(),
	}

	h, _ := json.Marshal(header)
	c, _ := json.Marshal(claims)

	enc := base64.RawURLEncoding
	signing := enc.EncodeToString(h) + "." + enc.EncodeToString(c)

	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write([]byte(signing))

	return signing + "." + enc.EncodeToString(mac.Sum(nil))
}

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
