// Package registry holds the per-capability provider tables: for each
// capability kind, a mapping from provider id to the adapter instance and its
// mutable ProviderConfig record.
//
// The registry is built once at startup and is read-mostly afterwards;
// lookups need no locking. ProviderConfig fields are mutated only by the
// router under its per-capability lock.
package registry

import (
	"context"

	"github.com/storyflow/ai-gateway/internal/providers"
)

// ProviderConfig is the routing profile of one provider under one capability.
// Cost and priority are static, config-driven; latency and success rate are
// live observations fed back by the router.
type ProviderConfig struct {
	ID          string
	DisplayName string

	// Priority is 1-10, higher preferred.
	Priority int

	// CostPerCall is a monetary cost estimate per call.
	CostPerCall float64

	// AvgLatency is an exponential moving average of observed call latency,
	// in seconds.
	AvgLatency float64

	// SuccessRate is 1 - FailureCount/TotalCalls, recomputed on failure.
	SuccessRate float64

	// Available is the administrative online/offline flag, independent of the
	// circuit breaker.
	Available bool

	// FailureCount counts consecutive failures; any success resets it.
	FailureCount int

	TotalCalls   int64
	TotalLatency float64
}

// Registry maps capability kind → provider id → adapter + ProviderConfig.
type Registry struct {
	llm   map[string]providers.LLMProvider
	image map[string]providers.ImageProvider
	video map[string]providers.VideoProvider
	tts   map[string]providers.TTSProvider

	// order preserves registration order per capability so iteration (and
	// therefore strategy tie-breaking) is deterministic.
	order   map[providers.Capability][]string
	configs map[providers.Capability]map[string]*ProviderConfig

	mockMode bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		llm:     make(map[string]providers.LLMProvider),
		image:   make(map[string]providers.ImageProvider),
		video:   make(map[string]providers.VideoProvider),
		tts:     make(map[string]providers.TTSProvider),
		order:   make(map[providers.Capability][]string),
		configs: make(map[providers.Capability]map[string]*ProviderConfig),
	}
}

// MockMode reports whether the registry was built with only mock adapters.
func (r *Registry) MockMode() bool { return r.mockMode }

// RegisterLLM adds an LLM adapter under id. Re-registering an id replaces the
// adapter but keeps the original order slot.
func (r *Registry) RegisterLLM(id string, p providers.LLMProvider, cfg *ProviderConfig) {
	r.llm[id] = p
	r.register(providers.CapLLM, id, cfg)
}

// RegisterImage adds an image adapter under id.
func (r *Registry) RegisterImage(id string, p providers.ImageProvider, cfg *ProviderConfig) {
	r.image[id] = p
	r.register(providers.CapImage, id, cfg)
}

// RegisterVideo adds a video adapter under id.
func (r *Registry) RegisterVideo(id string, p providers.VideoProvider, cfg *ProviderConfig) {
	r.video[id] = p
	r.register(providers.CapVideo, id, cfg)
}

// RegisterTTS adds a TTS adapter under id.
func (r *Registry) RegisterTTS(id string, p providers.TTSProvider, cfg *ProviderConfig) {
	r.tts[id] = p
	r.register(providers.CapTTS, id, cfg)
}

func (r *Registry) register(cap providers.Capability, id string, cfg *ProviderConfig) {
	if cfg == nil {
		cfg = &ProviderConfig{ID: id, DisplayName: id, Priority: 5, SuccessRate: 0.99, Available: true}
	}
	cfg.ID = id

	if r.configs[cap] == nil {
		r.configs[cap] = make(map[string]*ProviderConfig)
	}
	if _, seen := r.configs[cap][id]; !seen {
		r.order[cap] = append(r.order[cap], id)
	}
	r.configs[cap][id] = cfg
}

// List returns the provider ids registered for cap, in registration order.
// The returned slice is a copy.
func (r *Registry) List(cap providers.Capability) []string {
	ids := r.order[cap]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Has reports whether id is registered for cap.
func (r *Registry) Has(cap providers.Capability, id string) bool {
	_, ok := r.configs[cap][id]
	return ok
}

// Config returns the mutable ProviderConfig for (cap, id).
func (r *Registry) Config(cap providers.Capability, id string) (*ProviderConfig, error) {
	cfg, ok := r.configs[cap][id]
	if !ok {
		return nil, &providers.NotFoundError{Capability: cap, ID: id}
	}
	return cfg, nil
}

// LLM returns the chat adapter registered under id.
func (r *Registry) LLM(id string) (providers.LLMProvider, error) {
	p, ok := r.llm[id]
	if !ok {
		return nil, &providers.NotFoundError{Capability: providers.CapLLM, ID: id}
	}
	return p, nil
}

// Image returns the image adapter registered under id.
func (r *Registry) Image(id string) (providers.ImageProvider, error) {
	p, ok := r.image[id]
	if !ok {
		return nil, &providers.NotFoundError{Capability: providers.CapImage, ID: id}
	}
	return p, nil
}

// Video returns the video adapter registered under id.
func (r *Registry) Video(id string) (providers.VideoProvider, error) {
	p, ok := r.video[id]
	if !ok {
		return nil, &providers.NotFoundError{Capability: providers.CapVideo, ID: id}
	}
	return p, nil
}

// TTS returns the speech adapter registered under id.
func (r *Registry) TTS(id string) (providers.TTSProvider, error) {
	p, ok := r.tts[id]
	if !ok {
		return nil, &providers.NotFoundError{Capability: providers.CapTTS, ID: id}
	}
	return p, nil
}

// Prober returns the health probe of the adapter registered under (cap, id).
func (r *Registry) Prober(cap providers.Capability, id string) (func(ctx context.Context) error, error) {
	switch cap {
	case providers.CapLLM:
		p, err := r.LLM(id)
		if err != nil {
			return nil, err
		}
		return p.CheckHealth, nil
	case providers.CapImage:
		p, err := r.Image(id)
		if err != nil {
			return nil, err
		}
		return p.CheckHealth, nil
	case providers.CapVideo:
		p, err := r.Video(id)
		if err != nil {
			return nil, err
		}
		return p.CheckHealth, nil
	case providers.CapTTS:
		p, err := r.TTS(id)
		if err != nil {
			return nil, err
		}
		return p.CheckHealth, nil
	}
	return nil, &providers.NotFoundError{Capability: cap, ID: id}
}
