// Package kling implements the video contract against the Kling
// image-to-video API. Requests are authenticated with HMAC-SHA256 signed
// headers (X-Access-Key / X-Timestamp / X-Signature).
package kling

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
	"strconv"
	"time"

	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://api.klingai.com"
	providerName   = "kling"
)

type submitRequest struct {
	Image          string `json:"image"`
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Duration       string `json:"duration"`
	Mode           string `json:"mode"`
}

type submitResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

type taskResponse struct {
	Code int `json:"code"`
	Data struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"` // submitted, processing, succeed, failed
		TaskMsg    string `json:"task_status_msg"`
		TaskResult struct {
			Videos []struct {
				URL      string `json:"url"`
				Duration string `json:"duration"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

type Provider struct {
	accessKey string
	secretKey string
	baseURL   string
	mode      string // "std" or "pro"
	client    *http.Client

	now func() time.Time // injectable for signature tests
}

type Option func(*Provider)

func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

func WithMode(mode string) Option {
	return func(p *Provider) { p.mode = mode }
}

// New creates a Kling adapter. Both keys are required for request signing.
func New(accessKey, secretKey string, opts ...Option) (*Provider, error) {
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("kling: access key and secret key are required")
	}

	p := &Provider{
		accessKey: accessKey,
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		mode:      "std",
		client:    &http.Client{},
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) SubmitTask(ctx context.Context, req *providers.VideoRequest) (*providers.VideoTask, error) {
	duration := req.Duration
	if duration != 5 && duration != 10 {
		duration = 5 // the API only accepts 5s or 10s clips
	}

	body := submitRequest{
		Image:    req.ImageURL,
		Prompt:   req.Prompt,
		Duration: strconv.Itoa(duration),
		Mode:     p.mode,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("kling: marshal request: %w", err)
	}

	const path = "/v1/videos/image2video"
	var out submitResponse
	if err := p.do(ctx, http.MethodPost, path, payload, &out); err != nil {
		return nil, err
	}

	if out.Data.TaskID == "" {
		return nil, &providers.CallError{
			Provider: providerName,
			Message:  fmt.Sprintf("submit rejected (code=%d): %s", out.Code, out.Message),
		}
	}

	return &providers.VideoTask{TaskID: out.Data.TaskID}, nil
}

func (p *Provider) GetTaskStatus(ctx context.Context, taskID string) (*providers.VideoStatus, error) {
	path := "/v1/videos/image2video/" + taskID

	var out taskResponse
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	status := &providers.VideoStatus{State: mapState(out.Data.TaskStatus)}
	switch status.State {
	case providers.TaskCompleted:
		status.Progress = 100
		if vids := out.Data.TaskResult.Videos; len(vids) > 0 {
			status.VideoURL = vids[0].URL
		}
	case providers.TaskProcessing:
		status.Progress = 50
	case providers.TaskFailed:
		status.Error = out.Data.TaskMsg
	}

	return status, nil
}

func (p *Provider) CheckHealth(ctx context.Context) error {
	// Query a nonexistent task: a signed 404/400 proves auth and reachability,
	// a 401/403 or transport error means the provider is unusable.
	path := "/v1/videos/image2video/healthcheck"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kling: health check: %w", err)
	}
	p.sign(httpReq, http.MethodGet, path)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("kling: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &providers.CallError{Provider: providerName, Status: resp.StatusCode, Message: "authentication failed"}
	}
	return nil
}

func (p *Provider) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("kling: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	p.sign(httpReq, method, path)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("kling: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kling: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &providers.CallError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  truncate(string(data), 200),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("kling: decode response: %w", err)
	}
	return nil
}

// sign adds the HMAC-SHA256 signature headers. The string to sign is
// "METHOD\nPATH\nTIMESTAMP" with a unix-seconds timestamp.
func (p *Provider) sign(req *http.Request, method, path string) {
	ts := strconv.FormatInt(p.now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(p.secretKey))
	fmt.Fprintf(mac, "%s\n%s\n%s", method, path, ts)

	req.Header.Set("X-Access-Key", p.accessKey)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func mapState(vendor string) providers.TaskState {
	switch vendor {
	case "submitted":
		return providers.TaskPending
	case "processing":
		return providers.TaskProcessing
	case "succeed":
		return providers.TaskCompleted
	case "failed":
		return providers.TaskFailed
	default:
		return providers.TaskPending
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
