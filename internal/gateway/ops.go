package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storyflow/ai-gateway/internal/providers"
)

// Chat runs a chat completion and returns the content plus the provider that
// served it.
func (g *Gateway) Chat(ctx context.Context, req *providers.ChatRequest, opts *RequestOptions) (string, string, error) {
	return dispatch(g, ctx, providers.CapLLM, "chat_completion", opts, g.callTimeout,
		func(ctx context.Context, id string) (string, error) {
			p, err := g.reg.LLM(id)
			if err != nil {
				return "", err
			}
			return p.ChatCompletion(ctx, req)
		})
}

// ChatJSON runs a chat completion in JSON mode and unmarshals the reply into
// out. A reply that is not valid JSON counts as a provider failure.
func (g *Gateway) ChatJSON(ctx context.Context, req *providers.ChatRequest, opts *RequestOptions, out any) (string, error) {
	jsonReq := *req
	jsonReq.JSONMode = true

	_, id, err := dispatch(g, ctx, providers.CapLLM, "chat_completion_json", opts, g.callTimeout,
		func(ctx context.Context, pid string) (struct{}, error) {
			p, err := g.reg.LLM(pid)
			if err != nil {
				return struct{}{}, err
			}
			content, err := p.ChatCompletion(ctx, &jsonReq)
			if err != nil {
				return struct{}{}, err
			}
			if err := json.Unmarshal([]byte(content), out); err != nil {
				return struct{}{}, fmt.Errorf("provider %s returned invalid JSON: %w", pid, err)
			}
			return struct{}{}, nil
		})
	return id, err
}

// GenerateImage produces an image for req.
func (g *Gateway) GenerateImage(ctx context.Context, req *providers.ImageRequest, opts *RequestOptions) (*providers.ImageResult, string, error) {
	return dispatch(g, ctx, providers.CapImage, "generate_image", opts, g.genTimeout,
		func(ctx context.Context, id string) (*providers.ImageResult, error) {
			p, err := g.reg.Image(id)
			if err != nil {
				return nil, err
			}
			return p.Generate(ctx, req)
		})
}

// GenerateVideo submits an image-to-video task and returns its handle. Poll
// it with VideoTaskStatus against the provider returned here.
func (g *Gateway) GenerateVideo(ctx context.Context, req *providers.VideoRequest, opts *RequestOptions) (*providers.VideoTask, string, error) {
	return dispatch(g, ctx, providers.CapVideo, "submit_video", opts, g.genTimeout,
		func(ctx context.Context, id string) (*providers.VideoTask, error) {
			p, err := g.reg.Video(id)
			if err != nil {
				return nil, err
			}
			return p.SubmitTask(ctx, req)
		})
}

// VideoTaskStatus polls a previously submitted video task. Task ids are only
// meaningful to the provider that issued them, so no failover happens here.
func (g *Gateway) VideoTaskStatus(ctx context.Context, providerID, taskID string) (*providers.VideoStatus, error) {
	p, err := g.reg.Video(providerID)
	if err != nil {
		return nil, err
	}
	res, err := g.attempt(ctx, providers.CapVideo, "video_task_status", providerID, "", g.callTimeout,
		func(ctx context.Context) (any, error) {
			return p.GetTaskStatus(ctx, taskID)
		})
	if err != nil {
		return nil, err
	}
	return res.(*providers.VideoStatus), nil
}

// SynthesizeSpeech renders req.Text as audio.
func (g *Gateway) SynthesizeSpeech(ctx context.Context, req *providers.SpeechRequest, opts *RequestOptions) (*providers.SpeechResult, string, error) {
	return dispatch(g, ctx, providers.CapTTS, "synthesize_speech", opts, g.callTimeout,
		func(ctx context.Context, id string) (*providers.SpeechResult, error) {
			p, err := g.reg.TTS(id)
			if err != nil {
				return nil, err
			}
			return p.Synthesize(ctx, req)
		})
}

// ListVoices returns the voice catalogue of the first healthy TTS provider
// (or of opts.Preferred when set), plus the provider that answered.
func (g *Gateway) ListVoices(ctx context.Context, opts *RequestOptions) ([]providers.Voice, string, error) {
	return dispatch(g, ctx, providers.CapTTS, "list_voices", opts, g.callTimeout,
		func(ctx context.Context, id string) ([]providers.Voice, error) {
			p, err := g.reg.TTS(id)
			if err != nil {
				return nil, err
			}
			return p.ListVoices(ctx)
		})
}

// ProviderHealth is one entry of the health report.
type ProviderHealth struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
}

// HealthReport runs the cached health check for every registered provider
// and groups the verdicts by capability.
func (g *Gateway) HealthReport(ctx context.Context) map[providers.Capability][]ProviderHealth {
	out := make(map[providers.Capability][]ProviderHealth, 4)
	for _, cap := range providers.Capabilities() {
		ids := g.reg.List(cap)
		if len(ids) == 0 {
			continue
		}
		report := make([]ProviderHealth, 0, len(ids))
		for _, id := range ids {
			report = append(report, ProviderHealth{ID: id, Healthy: g.healthy(ctx, cap, id)})
		}
		out[cap] = report
	}
	return out
}
