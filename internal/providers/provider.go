// Package providers defines the capability contracts and shared types used by
// all AI vendor adapters (Qwen, DeepSeek, Zhipu, Wanx, Jimeng, Kling, Aliyun
// TTS, Volcengine TTS, and the mock adapters).
//
// Each vendor lives in its own sub-package and implements the contract for the
// capability kind it serves. Adapters are stateless aside from their own
// connection configuration; all routing state lives in the router package.
package providers

import (
	"context"
	"time"
)

// Capability is one of the four independent routing namespaces. A circuit
// opening for a vendor's image capability never affects its LLM capability.
type Capability string

const (
	CapLLM   Capability = "llm"
	CapImage Capability = "image"
	CapVideo Capability = "video"
	CapTTS   Capability = "tts"
)

// Capabilities returns all capability kinds in a stable order.
func Capabilities() []Capability {
	return []Capability{CapLLM, CapImage, CapVideo, CapTTS}
}

type (
	// Message is a single turn in a conversation (role + text content).
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// ChatRequest is a normalized chat completion request.
	ChatRequest struct {
		Messages    []Message
		Model       string // empty means the adapter's default model
		Temperature float64
		MaxTokens   int
		JSONMode    bool // ask the vendor for a JSON object response
	}

	// ImageRequest is a normalized text-to-image request.
	ImageRequest struct {
		Prompt         string
		NegativePrompt string
		Width          int
		Height         int
		Seed           int64 // 0 means vendor-chosen
	}

	// ImageResult is the outcome of a completed image generation.
	ImageResult struct {
		ImageURL string
		Seed     int64
		TaskID   string // vendor task id when the API is asynchronous
	}

	// VideoRequest is a normalized image-to-video request.
	VideoRequest struct {
		ImageURL string
		Prompt   string
		Duration int // seconds
	}

	// VideoTask identifies a submitted video generation task.
	VideoTask struct {
		TaskID string
	}

	// VideoStatus reports the progress of a video generation task.
	VideoStatus struct {
		State    TaskState
		Progress int // 0-100, best effort
		VideoURL string
		Error    string
	}

	// SpeechRequest is a normalized text-to-speech request.
	SpeechRequest struct {
		Text       string
		Voice      string
		Format     string // mp3, wav, pcm
		SampleRate int
		Speed      float64
		Pitch      float64
	}

	// SpeechResult carries synthesized audio.
	SpeechResult struct {
		Audio    []byte
		Duration float64 // seconds, estimated by some vendors
		Format   string
	}

	// Voice describes one selectable TTS voice.
	Voice struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Gender   string `json:"gender"`
		Language string `json:"language"`
	}
)

// TaskState is the lifecycle state of an asynchronous vendor task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// LLMProvider is the chat completion contract.
type LLMProvider interface {
	Name() string
	ChatCompletion(ctx context.Context, req *ChatRequest) (string, error)
	CheckHealth(ctx context.Context) error
}

// ImageProvider is the text-to-image contract.
type ImageProvider interface {
	Name() string
	Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error)
	CheckHealth(ctx context.Context) error
}

// VideoProvider is the image-to-video contract. Video generation is always
// asynchronous: SubmitTask returns a task id that is then polled with
// GetTaskStatus.
type VideoProvider interface {
	Name() string
	SubmitTask(ctx context.Context, req *VideoRequest) (*VideoTask, error)
	GetTaskStatus(ctx context.Context, taskID string) (*VideoStatus, error)
	CheckHealth(ctx context.Context) error
}

// TTSProvider is the speech synthesis contract.
type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResult, error)
	ListVoices(ctx context.Context) ([]Voice, error)
	CheckHealth(ctx context.Context) error
}

// FallbackOrder is the default per-capability failover sequence. The façade
// walks this list (skipping unregistered ids) when no explicit strategy or
// preferred provider is given. "mock" is always last.
var FallbackOrder = map[Capability][]string{
	CapLLM:   {"qwen", "deepseek", "zhipu", "mock"},
	CapImage: {"wanx", "jimeng", "mock"},
	CapVideo: {"kling", "mock"},
	CapTTS:   {"aliyun", "volcengine", "mock"},
}

// MockID is the provider id reserved for the mock adapters. The selector
// falls back to it when every real provider is ineligible.
const MockID = "mock"

// Default routing and resilience constants.
const (
	// CBErrorThreshold is the number of recent errors that opens the breaker.
	CBErrorThreshold = 5

	// CBCooldown is how long an open breaker waits before admitting a single
	// trial call.
	CBCooldown = 60 * time.Second

	// HealthCacheTTL bounds how long a health probe result is reused.
	HealthCacheTTL = 60 * time.Second

	// HealthProbeTimeout is the deadline for liveness probes. Deliberately
	// much shorter than content-generation deadlines.
	HealthProbeTimeout = 5 * time.Second

	// CallTimeout is the default deadline for chat and speech calls.
	CallTimeout = 60 * time.Second

	// GenerationTimeout is the default deadline for image generation, which
	// includes the adapter's internal submit-and-poll loop.
	GenerationTimeout = 300 * time.Second
)
