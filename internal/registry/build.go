package registry

import (
	"log/slog"

	"github.com/storyflow/ai-gateway/internal/config"
	"github.com/storyflow/ai-gateway/internal/providers"
	"github.com/storyflow/ai-gateway/internal/providers/aliyuntts"
	"github.com/storyflow/ai-gateway/internal/providers/jimeng"
	"github.com/storyflow/ai-gateway/internal/providers/kling"
	"github.com/storyflow/ai-gateway/internal/providers/mockprov"
	"github.com/storyflow/ai-gateway/internal/providers/openaicompat"
	"github.com/storyflow/ai-gateway/internal/providers/qwen"
	"github.com/storyflow/ai-gateway/internal/providers/volctts"
	"github.com/storyflow/ai-gateway/internal/providers/wanx"
	"github.com/storyflow/ai-gateway/internal/providers/zhipu"
)

// seed returns the initial routing profile for a known provider id. The
// numbers reflect observed vendor behaviour and are refined at runtime by the
// router's feedback loop.
func seed(id, display string, priority int, cost, latency, success float64) *ProviderConfig {
	return &ProviderConfig{
		ID:          id,
		DisplayName: display,
		Priority:    priority,
		CostPerCall: cost,
		AvgLatency:  latency,
		SuccessRate: success,
		Available:   true,
	}
}

func mockSeed() *ProviderConfig {
	return seed(providers.MockID, "Mock", 1, 0, 0.01, 1.0)
}

// Build constructs a registry from cfg. Providers with missing credentials
// are skipped; providers whose constructor rejects its credentials are
// skipped with a warning. A mock provider is always registered last for
// every capability so selection can never come up empty.
//
// With cfg.MockMode set, only the mock providers are registered.
func Build(cfg *config.Config, log *slog.Logger) *Registry {
	r := New()

	if cfg.MockMode {
		r.mockMode = true
		log.Info("mock mode enabled, vendor providers disabled")
		registerMocks(r)
		return r
	}

	// LLM providers.
	if cfg.DashScope.APIKey != "" {
		var opts []qwen.Option
		if cfg.DashScope.BaseURL != "" {
			opts = append(opts, qwen.WithBaseURL(cfg.DashScope.BaseURL))
		}
		r.RegisterLLM("qwen", qwen.New(cfg.DashScope.APIKey, opts...),
			seed("qwen", "Tongyi Qianwen", 10, 0.004, 1.5, 0.99))
	}
	if cfg.DeepSeek.APIKey != "" {
		base := cfg.DeepSeek.BaseURL
		if base == "" {
			base = "https://api.deepseek.com/v1"
		}
		r.RegisterLLM("deepseek", openaicompat.New("deepseek", cfg.DeepSeek.APIKey, base, "deepseek-chat"),
			seed("deepseek", "DeepSeek", 8, 0.002, 1.0, 0.97))
	}
	if cfg.Zhipu.APIKey != "" {
		p, err := zhipu.New(cfg.Zhipu.APIKey)
		if err != nil {
			log.Warn("skipping zhipu provider", slog.String("error", err.Error()))
		} else {
			r.RegisterLLM("zhipu", p,
				seed("zhipu", "Zhipu GLM", 7, 0.05, 2.0, 0.98))
		}
	}

	// Image providers.
	if cfg.DashScope.APIKey != "" {
		var opts []wanx.Option
		if cfg.DashScope.BaseURL != "" {
			opts = append(opts, wanx.WithBaseURL(cfg.DashScope.BaseURL))
		}
		r.RegisterImage("wanx", wanx.New(cfg.DashScope.APIKey, opts...),
			seed("wanx", "Tongyi Wanxiang", 10, 0.1, 30, 0.95))
	}
	if cfg.Jimeng.APIKey != "" {
		var opts []jimeng.Option
		if cfg.Jimeng.BaseURL != "" {
			opts = append(opts, jimeng.WithBaseURL(cfg.Jimeng.BaseURL))
		}
		r.RegisterImage("jimeng", jimeng.New(cfg.Jimeng.APIKey, opts...),
			seed("jimeng", "Jimeng AI", 8, 0.15, 25, 0.96))
	}

	// Video providers.
	if cfg.Kling.AccessKey != "" {
		p, err := kling.New(cfg.Kling.AccessKey, cfg.Kling.SecretKey)
		if err != nil {
			log.Warn("skipping kling provider", slog.String("error", err.Error()))
		} else {
			r.RegisterVideo("kling", p,
				seed("kling", "Kling Video", 10, 0.5, 120, 0.92))
		}
	}

	// TTS providers.
	if cfg.DashScope.APIKey != "" {
		var opts []aliyuntts.Option
		if cfg.DashScope.BaseURL != "" {
			opts = append(opts, aliyuntts.WithBaseURL(cfg.DashScope.BaseURL))
		}
		r.RegisterTTS("aliyun", aliyuntts.New(cfg.DashScope.APIKey, opts...),
			seed("aliyun", "Aliyun TTS", 10, 0.02, 1.0, 0.99))
	}
	if cfg.VolcTTS.AppID != "" {
		r.RegisterTTS("volcengine", volctts.New(cfg.VolcTTS.AppID, cfg.VolcTTS.Token),
			seed("volcengine", "Volcengine TTS", 8, 0.02, 1.2, 0.98))
	}

	// The mock tier comes last so it only wins when everything else is down.
	registerMocks(r)

	for _, cap := range providers.Capabilities() {
		log.Info("providers registered",
			slog.String("capability", string(cap)),
			slog.Any("ids", r.List(cap)))
	}

	return r
}

func registerMocks(r *Registry) {
	r.RegisterLLM(providers.MockID, mockprov.NewLLM(), mockSeed())
	r.RegisterImage(providers.MockID, mockprov.NewImage(), mockSeed())
	r.RegisterVideo(providers.MockID, mockprov.NewVideo(), mockSeed())
	r.RegisterTTS(providers.MockID, mockprov.NewTTS(), mockSeed())
}
