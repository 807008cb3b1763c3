// Package aliyuntts implements the TTS contract against the DashScope speech
// synthesis API (Sambert voices). Audio is returned base64-encoded in the
// JSON response.
package aliyuntts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel   = "sambert-zhichu-v1"
	defaultVoice   = "zhixiaobai"
	providerName   = "aliyun"
)

type synthRequest struct {
	Model      string      `json:"model"`
	Input      synthInput  `json:"input"`
	Parameters synthParams `json:"parameters"`
}

type synthInput struct {
	Text string `json:"text"`
}

type synthParams struct {
	Voice      string  `json:"voice"`
	Format     string  `json:"format"`
	SampleRate int     `json:"sample_rate"`
	Rate       float64 `json:"rate"`
	Pitch      float64 `json:"pitch"`
}

type synthResponse struct {
	Output struct {
		Audio string `json:"audio"` // base64
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var voices = []providers.Voice{
	{ID: "zhixiaobai", Name: "知小白", Gender: "female", Language: "zh"},
	{ID: "zhixiaoxia", Name: "知小夏", Gender: "female", Language: "zh"},
	{ID: "zhichu", Name: "知厨", Gender: "male", Language: "zh"},
	{ID: "zhiwei", Name: "知薇", Gender: "female", Language: "zh"},
	{ID: "zhide", Name: "知德", Gender: "male", Language: "zh"},
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

func (p *Provider) Synthesize(ctx context.Context, req *providers.SpeechRequest) (*providers.SpeechResult, error) {
	voice := req.Voice
	if voice == "" {
		voice = defaultVoice
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}
	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}
	pitch := req.Pitch
	if pitch == 0 {
		pitch = 1.0
	}

	body := synthRequest{
		Model: p.model,
		Input: synthInput{Text: req.Text},
		Parameters: synthParams{
			Voice:      voice,
			Format:     format,
			SampleRate: sampleRate,
			Rate:       speed,
			Pitch:      pitch,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("aliyuntts: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/services/aigc/text2speech/synthesis", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("aliyuntts: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aliyuntts: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aliyuntts: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &providers.CallError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  truncate(string(data), 200),
		}
	}

	var out synthResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("aliyuntts: decode response: %w", err)
	}
	if out.Output.Audio == "" {
		return nil, &providers.CallError{Provider: providerName, Message: "synthesis failed: " + out.Message}
	}

	audio, err := base64.StdEncoding.DecodeString(out.Output.Audio)
	if err != nil {
		return nil, fmt.Errorf("aliyuntts: decode audio: %w", err)
	}

	return &providers.SpeechResult{
		Audio:    audio,
		Duration: estimateDuration(req.Text, speed),
		Format:   format,
	}, nil
}

func (p *Provider) ListVoices(_ context.Context) ([]providers.Voice, error) {
	out := make([]providers.Voice, len(voices))
	copy(out, voices)
	return out, nil
}

// CheckHealth synthesizes a single character; the response is discarded.
func (p *Provider) CheckHealth(ctx context.Context) error {
	_, err := p.Synthesize(ctx, &providers.SpeechRequest{Text: "嗨"})
	return err
}

// estimateDuration approximates playback length at roughly four Chinese
// characters per second; the API does not report duration.
func estimateDuration(text string, speed float64) float64 {
	chars := len([]rune(text))
	return float64(chars) / 4 / speed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
