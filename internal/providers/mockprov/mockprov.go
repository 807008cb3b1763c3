// Package mockprov provides deterministic in-process adapters for all four
// capability kinds. They are registered alone in mock mode (no credentials
// needed) and double as the selector's last-resort fallback.
package mockprov

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/storyflow/ai-gateway/internal/providers"
)

// LLM is a mock chat completion adapter.
type LLM struct{}

func NewLLM() *LLM { return &LLM{} }

func (*LLM) Name() string { return providers.MockID }

func (*LLM) ChatCompletion(_ context.Context, req *providers.ChatRequest) (string, error) {
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}

	if req.JSONMode {
		out, _ := json.Marshal(map[string]string{
			"response": "mock response",
			"message":  truncate(last, 50),
		})
		return string(out), nil
	}

	return fmt.Sprintf("[mock] received: %s", truncate(last, 100)), nil
}

func (*LLM) CheckHealth(context.Context) error { return nil }

// Image is a mock image generation adapter. It returns a placeholder image
// URL keyed by the seed so repeated calls with the same seed agree.
type Image struct{}

func NewImage() *Image { return &Image{} }

func (*Image) Name() string { return providers.MockID }

func (*Image) Generate(_ context.Context, req *providers.ImageRequest) (*providers.ImageResult, error) {
	seed := req.Seed
	if seed == 0 {
		seed = 42
	}
	width, height := req.Width, req.Height
	if width == 0 {
		width = 1024
	}
	if height == 0 {
		height = 576
	}

	return &providers.ImageResult{
		ImageURL: fmt.Sprintf("https://picsum.photos/seed/%d/%d/%d", seed, width, height),
		Seed:     seed,
	}, nil
}

func (*Image) CheckHealth(context.Context) error { return nil }

// Video is a mock video adapter whose tasks complete immediately.
type Video struct{}

func NewVideo() *Video { return &Video{} }

func (*Video) Name() string { return providers.MockID }

func (*Video) SubmitTask(context.Context, *providers.VideoRequest) (*providers.VideoTask, error) {
	return &providers.VideoTask{TaskID: "mock-" + uuid.New().String()}, nil
}

func (*Video) GetTaskStatus(_ context.Context, taskID string) (*providers.VideoStatus, error) {
	return &providers.VideoStatus{
		State:    providers.TaskCompleted,
		Progress: 100,
		VideoURL: "https://example.com/mock/" + taskID + ".mp4",
	}, nil
}

func (*Video) CheckHealth(context.Context) error { return nil }

// TTS is a mock speech synthesis adapter. The "audio" is a short fixed byte
// pattern, long enough for callers to exercise their write paths.
type TTS struct{}

func NewTTS() *TTS { return &TTS{} }

func (*TTS) Name() string { return providers.MockID }

func (*TTS) Synthesize(_ context.Context, req *providers.SpeechRequest) (*providers.SpeechResult, error) {
	format := req.Format
	if format == "" {
		format = "mp3"
	}
	return &providers.SpeechResult{
		Audio:    []byte("mock-audio-data"),
		Duration: float64(len([]rune(req.Text))) / 4,
		Format:   format,
	}, nil
}

func (*TTS) ListVoices(context.Context) ([]providers.Voice, error) {
	return []providers.Voice{
		{ID: "mock-female", Name: "Mock Female", Gender: "female", Language: "zh"},
		{ID: "mock-male", Name: "Mock Male", Gender: "male", Language: "zh"},
	}, nil
}

func (*TTS) CheckHealth(context.Context) error { return nil }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
