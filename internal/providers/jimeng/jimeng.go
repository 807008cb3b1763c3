// Package jimeng implements the image contract against the Jimeng
// generation API. Unlike Wanx, image generation here is synchronous.
package jimeng

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
	defaultBaseURL = "https://api.jimeng.jianying.com"
	providerName   = "jimeng"
)

type generateRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	NumImages      int    `json:"num_images"`
	Seed           int64  `json:"seed,omitempty"`
}

type generateResponse struct {
	Data []struct {
		URL  string `json:"url"`
		Seed int64  `json:"seed"`
	} `json:"data"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type Option func(*Provider)

func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Generate(ctx context.Context, req *providers.ImageRequest) (*providers.ImageResult, error) {
	body := generateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		NumImages:      1,
		Seed:           req.Seed,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("jimeng: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v2/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jimeng: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jimeng: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jimeng: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &providers.CallError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  truncate(string(data), 200),
		}
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("jimeng: decode response: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, &providers.CallError{Provider: providerName, Message: "no image returned: " + out.ErrorMessage}
	}

	return &providers.ImageResult{
		ImageURL: out.Data[0].URL,
		Seed:     out.Data[0].Seed,
	}, nil
}

func (p *Provider) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("jimeng: health check: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("jimeng: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &providers.CallError{Provider: providerName, Status: resp.StatusCode, Message: "health endpoint not ok"}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
