// Package volctts implements the TTS contract against the Volcengine speech
// API. The vendor wraps every request in an app/user/audio/request envelope
// and reports success with code 3000.
package volctts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://openspeech.bytedance.com/api/v1/tts"
	defaultCluster = "volcano_tts"
	defaultVoice   = "zh_female_qingxin"
	providerName   = "volcengine"

	codeOK = 3000
)

type synthRequest struct {
	App     appSection     `json:"app"`
	User    userSection    `json:"user"`
	Audio   audioSection   `json:"audio"`
	Request requestSection `json:"request"`
}

type appSection struct {
	AppID   string `json:"appid"`
	Token   string `json:"token"`
	Cluster string `json:"cluster"`
}

type userSection struct {
	UID string `json:"uid"`
}

type audioSection struct {
	VoiceType  string  `json:"voice_type"`
	Encoding   string  `json:"encoding"`
	SpeedRatio float64 `json:"speed_ratio"`
	PitchRatio float64 `json:"pitch_ratio"`
}

type requestSection struct {
	ReqID     string `json:"reqid"`
	Text      string `json:"text"`
	Operation string `json:"operation"`
}

type synthResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"` // base64 audio
}

var voices = []providers.Voice{
	{ID: "zh_female_qingxin", Name: "清新女声", Gender: "female", Language: "zh"},
	{ID: "zh_male_chunhou", Name: "醇厚男声", Gender: "male", Language: "zh"},
	{ID: "zh_female_sichuan", Name: "四川女声", Gender: "female", Language: "zh"},
	{ID: "zh_male_jingqiang", Name: "京腔男声", Gender: "male", Language: "zh"},
	{ID: "en_female_sarah", Name: "Sarah", Gender: "female", Language: "en"},
	{ID: "en_male_adam", Name: "Adam", Gender: "male", Language: "en"},
}

type Provider struct {
	appID   string
	token   string
	cluster string
	baseURL string
	client  *http.Client
}

type Option func(*Provider)

func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

func WithCluster(cluster string) Option {
	return func(p *Provider) { p.cluster = cluster }
}

func New(appID, token string, opts ...Option) *Provider {
	p := &Provider{
		appID:   appID,
		token:   token,
		cluster: defaultCluster,
		baseURL: defaultBaseURL,
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
	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}
	pitch := req.Pitch
	if pitch == 0 {
		pitch = 1.0
	}

	body := synthRequest{
		App:  appSection{AppID: p.appID, Token: p.token, Cluster: p.cluster},
		User: userSection{UID: "storyflow"},
		Audio: audioSection{
			VoiceType:  voice,
			Encoding:   "mp3",
			SpeedRatio: speed,
			PitchRatio: pitch,
		},
		Request: requestSection{
			ReqID:     uuid.New().String(),
			Text:      req.Text,
			Operation: "query",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("volctts: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("volctts: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("volctts: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("volctts: read response: %w", err)
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
		return nil, fmt.Errorf("volctts: decode response: %w", err)
	}
	if out.Code != codeOK {
		return nil, &providers.CallError{
			Provider: providerName,
			Message:  fmt.Sprintf("synthesis failed (code=%d): %s", out.Code, out.Message),
		}
	}

	audio, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("volctts: decode audio: %w", err)
	}

	return &providers.SpeechResult{
		Audio:    audio,
		Duration: float64(len([]rune(req.Text))) * 0.3 / speed,
		Format:   "mp3",
	}, nil
}

func (p *Provider) ListVoices(_ context.Context) ([]providers.Voice, error) {
	out := make([]providers.Voice, len(voices))
	copy(out, voices)
	return out, nil
}

// CheckHealth fails fast on missing credentials, otherwise synthesizes a
// single character.
func (p *Provider) CheckHealth(ctx context.Context) error {
	if p.appID == "" || p.token == "" {
		return &providers.CallError{Provider: providerName, Message: "missing app id or token"}
	}
	_, err := p.Synthesize(ctx, &providers.SpeechRequest{Text: "嗨"})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
