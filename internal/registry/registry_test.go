package registry

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/storyflow/ai-gateway/internal/config"
	"github.com/storyflow/ai-gateway/internal/providers"
	"github.com/storyflow/ai-gateway/internal/providers/mockprov"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel: "info",
		HealthCache: config.HealthCacheConfig{
			Mode:         "memory",
			TTL:          60 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		CircuitBreaker: config.CircuitBreakerConfig{ErrorThreshold: 5, Cooldown: 60 * time.Second},
	}
}

func TestRegisterPreservesOrder(t *testing.T) {
	r := New()
	r.RegisterLLM("alpha", mockprov.NewLLM(), seed("alpha", "Alpha", 10, 0.01, 1, 0.99))
	r.RegisterLLM("beta", mockprov.NewLLM(), seed("beta", "Beta", 8, 0.02, 1, 0.97))
	r.RegisterLLM("gamma", mockprov.NewLLM(), seed("gamma", "Gamma", 6, 0.03, 1, 0.95))

	got := r.List(providers.CapLLM)
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("List returned %d ids, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReregisterKeepsOrderSlot(t *testing.T) {
	r := New()
	r.RegisterLLM("alpha", mockprov.NewLLM(), nil)
	r.RegisterLLM("beta", mockprov.NewLLM(), nil)
	r.RegisterLLM("alpha", mockprov.NewLLM(), seed("alpha", "Alpha v2", 3, 0.5, 2, 0.9))

	got := r.List(providers.CapLLM)
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("List = %v, want [alpha beta]", got)
	}
	cfg, err := r.Config(providers.CapLLM, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DisplayName != "Alpha v2" {
		t.Errorf("DisplayName = %q, want the replacement config", cfg.DisplayName)
	}
}

func TestLookupUnknownProvider(t *testing.T) {
	r := New()

	_, err := r.LLM("nope")
	var nf *providers.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("LLM(nope) error = %v, want NotFoundError", err)
	}
	if nf.Capability != providers.CapLLM || nf.ID != "nope" {
		t.Errorf("NotFoundError = %+v", nf)
	}

	if _, err := r.Config(providers.CapImage, "nope"); !errors.As(err, &nf) {
		t.Errorf("Config error = %v, want NotFoundError", err)
	}
	if r.Has(providers.CapVideo, "nope") {
		t.Error("Has returned true for unknown id")
	}
}

func TestCapabilitiesAreIsolated(t *testing.T) {
	r := New()
	r.RegisterLLM("shared", mockprov.NewLLM(), nil)
	r.RegisterImage("shared", mockprov.NewImage(), nil)

	if !r.Has(providers.CapLLM, "shared") || !r.Has(providers.CapImage, "shared") {
		t.Fatal("shared id should exist under both capabilities")
	}
	if r.Has(providers.CapTTS, "shared") {
		t.Error("id leaked into an unregistered capability")
	}
	if _, err := r.Video("shared"); err == nil {
		t.Error("Video(shared) should fail, only llm and image were registered")
	}
}

func TestBuildMockMode(t *testing.T) {
	cfg := testConfig()
	cfg.MockMode = true

	r := Build(cfg, discardLogger())

	if !r.MockMode() {
		t.Error("MockMode() = false after mock build")
	}
	for _, cap := range providers.Capabilities() {
		ids := r.List(cap)
		if len(ids) != 1 || ids[0] != providers.MockID {
			t.Errorf("capability %s ids = %v, want just the mock", cap, ids)
		}
		pc, err := r.Config(cap, providers.MockID)
		if err != nil {
			t.Fatalf("mock config missing for %s: %v", cap, err)
		}
		if !pc.Available || pc.CostPerCall != 0 {
			t.Errorf("mock config for %s = %+v", cap, pc)
		}
	}
}

func TestBuildFromCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.DashScope.APIKey = "sk-test"
	cfg.DeepSeek.APIKey = "sk-test"

	r := Build(cfg, discardLogger())

	llm := r.List(providers.CapLLM)
	if len(llm) != 3 || llm[0] != "qwen" || llm[1] != "deepseek" || llm[2] != providers.MockID {
		t.Fatalf("llm ids = %v, want [qwen deepseek mock]", llm)
	}

	// The DashScope key also enables wanx and aliyun TTS.
	if !r.Has(providers.CapImage, "wanx") {
		t.Error("wanx not registered despite DashScope key")
	}
	if !r.Has(providers.CapTTS, "aliyun") {
		t.Error("aliyun TTS not registered despite DashScope key")
	}

	// No Kling credentials: video falls through to the mock alone.
	video := r.List(providers.CapVideo)
	if len(video) != 1 || video[0] != providers.MockID {
		t.Errorf("video ids = %v, want just the mock", video)
	}

	qw, err := r.Config(providers.CapLLM, "qwen")
	if err != nil {
		t.Fatal(err)
	}
	if qw.Priority != 10 || qw.CostPerCall != 0.004 || qw.SuccessRate != 0.99 {
		t.Errorf("qwen seed = %+v", qw)
	}
}

func TestBuildSkipsMalformedZhipuKey(t *testing.T) {
	cfg := testConfig()
	cfg.DeepSeek.APIKey = "sk-test"
	cfg.Zhipu.APIKey = "not-a-dotted-key"

	r := Build(cfg, discardLogger())

	if r.Has(providers.CapLLM, "zhipu") {
		t.Error("zhipu registered despite malformed key")
	}
	if !r.Has(providers.CapLLM, "deepseek") {
		t.Error("deepseek should still register when a sibling is skipped")
	}
}
