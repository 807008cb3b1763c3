// Package wanx implements the image contract against the DashScope
// asynchronous text-to-image API (Tongyi Wanxiang).
//
// Generation is a submit-then-poll flow: the submit call returns a task id
// and the adapter polls the task endpoint until the image is ready or the
// caller's deadline expires.
package wanx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel   = "wanx-v1"
	providerName   = "wanx"

	pollInterval = 3 * time.Second
)

type submitRequest struct {
	Model      string       `json:"model"`
	Input      submitInput  `json:"input"`
	Parameters submitParams `json:"parameters"`
}

type submitInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

type submitParams struct {
	Size string `json:"size"`
	N    int    `json:"n"`
	Seed int64  `json:"seed,omitempty"`
}

type submitResponse struct {
	Output struct {
		TaskID string `json:"task_id"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"` // PENDING, RUNNING, SUCCEEDED, FAILED
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
		Message string `json:"message"`
	} `json:"output"`
	Usage struct {
		ImageCount int `json:"image_count"`
	} `json:"usage"`
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

func (p *Provider) Generate(ctx context.Context, req *providers.ImageRequest) (*providers.ImageResult, error) {
	taskID, err := p.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	url, err := p.waitForResult(ctx, taskID)
	if err != nil {
		return nil, err
	}

	return &providers.ImageResult{
		ImageURL: url,
		Seed:     req.Seed,
		TaskID:   taskID,
	}, nil
}

// CheckHealth verifies the API key against the task endpoint; an auth error
// surfaces as a vendor 401/403, anything else means the service answers.
func (p *Provider) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/tasks/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("wanx: health check: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("wanx: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &providers.CallError{Provider: providerName, Status: resp.StatusCode, Message: "authentication failed"}
	}
	return nil
}

func (p *Provider) submit(ctx context.Context, req *providers.ImageRequest) (string, error) {
	body := submitRequest{
		Model: p.model,
		Input: submitInput{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
		},
		Parameters: submitParams{
			Size: mapSize(req.Width, req.Height),
			N:    1,
			Seed: req.Seed,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("wanx: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/services/aigc/text2image/image-synthesis", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("wanx: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-DashScope-Async", "enable")

	var out submitResponse
	if err := p.do(httpReq, &out); err != nil {
		return "", err
	}
	if out.Output.TaskID == "" {
		return "", &providers.CallError{Provider: providerName, Message: "submit failed: " + out.Message}
	}

	return out.Output.TaskID, nil
}

func (p *Provider) waitForResult(ctx context.Context, taskID string) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/tasks/"+taskID, nil)
		if err != nil {
			return "", fmt.Errorf("wanx: build poll request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		var out taskResponse
		if err := p.do(httpReq, &out); err != nil {
			return "", err
		}

		switch out.Output.TaskStatus {
		case "SUCCEEDED":
			if len(out.Output.Results) == 0 {
				return "", &providers.CallError{Provider: providerName, Message: "task succeeded with no results"}
			}
			return out.Output.Results[0].URL, nil
		case "FAILED":
			return "", &providers.CallError{Provider: providerName, Message: "task failed: " + out.Output.Message}
		}
		// PENDING / RUNNING — keep polling.
	}
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("wanx: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("wanx: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &providers.CallError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  truncate(string(data), 200),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("wanx: decode response: %w", err)
	}
	return nil
}

// mapSize snaps arbitrary dimensions to the sizes Wanxiang supports.
func mapSize(width, height int) string {
	switch {
	case width == height:
		return "1024*1024"
	case width > height:
		return "1280*720"
	default:
		return "720*1280"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
