package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/storyflow/ai-gateway/internal/cache"
	"github.com/storyflow/ai-gateway/internal/health"
	"github.com/storyflow/ai-gateway/internal/providers"
	"github.com/storyflow/ai-gateway/internal/registry"
	"github.com/storyflow/ai-gateway/internal/router"
)

// fakeLLM is a scripted chat provider. Each call pops the next error from
// errs; nil means success.
type fakeLLM struct {
	name    string
	reply   string
	errs    []error
	calls   int
	healthy bool
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (string, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.reply, nil
}

func (f *fakeLLM) CheckHealth(ctx context.Context) error {
	if !f.healthy {
		return errors.New("probe failed")
	}
	return nil
}

type fakeTTS struct {
	name   string
	voices []providers.Voice
}

func (f *fakeTTS) Name() string { return f.name }

func (f *fakeTTS) Synthesize(ctx context.Context, req *providers.SpeechRequest) (*providers.SpeechResult, error) {
	return &providers.SpeechResult{Audio: []byte(f.name), Format: "mp3"}, nil
}

func (f *fakeTTS) ListVoices(ctx context.Context) ([]providers.Voice, error) {
	return f.voices, nil
}

func (f *fakeTTS) CheckHealth(ctx context.Context) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedCfg(id string, priority int) *registry.ProviderConfig {
	return &registry.ProviderConfig{
		ID:          id,
		DisplayName: id,
		Priority:    priority,
		CostPerCall: 0.01,
		AvgLatency:  1,
		SuccessRate: 0.99,
		Available:   true,
	}
}

// newTestGateway wires the fallback order qwen → deepseek → mock over the
// given fakes. The mock slot uses a healthy fake so outcomes are observable.
func newTestGateway(t *testing.T, fakes map[string]*fakeLLM) (*Gateway, *registry.Registry) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := registry.New()
	for _, id := range []string{"qwen", "deepseek", providers.MockID} {
		f, ok := fakes[id]
		if !ok {
			continue
		}
		reg.RegisterLLM(id, f, seedCfg(id, 10))
	}

	log := discardLogger()
	rt := router.New(reg, router.Config{}, log)
	store := cache.NewMemoryCache(ctx)
	t.Cleanup(store.Close)
	hc := health.New(store, log)

	return New(reg, rt, hc, log, Options{}), reg
}

func chatReq() *providers.ChatRequest {
	return &providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	}
}

func TestChatUsesFallbackOrder(t *testing.T) {
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", reply: "from qwen", healthy: true},
		"deepseek": {name: "deepseek", reply: "from deepseek", healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	content, id, err := g.Chat(context.Background(), chatReq(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "qwen" || content != "from qwen" {
		t.Errorf("Chat = (%q, %q), want the fallback head", content, id)
	}
	if fakes["deepseek"].calls != 0 {
		t.Error("secondary called although the primary succeeded")
	}
}

func TestChatFailsOverOnRetryableError(t *testing.T) {
	upstream := &providers.CallError{Provider: "qwen", Status: 500, Message: "boom"}
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", errs: []error{upstream}, healthy: true},
		"deepseek": {name: "deepseek", reply: "from deepseek", healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	content, id, err := g.Chat(context.Background(), chatReq(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "deepseek" || content != "from deepseek" {
		t.Errorf("Chat = (%q, %q), want the secondary after a 500", content, id)
	}
	if fakes["qwen"].calls != 1 {
		t.Errorf("primary called %d times, want 1", fakes["qwen"].calls)
	}
}

func TestChatAbortsOnClientError(t *testing.T) {
	badReq := &providers.CallError{Provider: "qwen", Status: 400, Message: "bad prompt"}
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", errs: []error{badReq}, healthy: true},
		"deepseek": {name: "deepseek", reply: "unused", healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	_, _, err := g.Chat(context.Background(), chatReq(), nil)
	var ce *providers.CallError
	if !errors.As(err, &ce) || ce.Status != 400 {
		t.Fatalf("error = %v, want the original 400", err)
	}
	if fakes["deepseek"].calls != 0 {
		t.Error("failover ran despite a non-retryable client error")
	}
}

func TestChatSkipsUnhealthyProvider(t *testing.T) {
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", reply: "unused", healthy: false},
		"deepseek": {name: "deepseek", reply: "from deepseek", healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	_, id, err := g.Chat(context.Background(), chatReq(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "deepseek" {
		t.Errorf("served by %q, want deepseek past the failed probe", id)
	}
	if fakes["qwen"].calls != 0 {
		t.Error("unhealthy provider still received the call")
	}
}

func TestChatPreferredProvider(t *testing.T) {
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", reply: "unused", healthy: true},
		"deepseek": {name: "deepseek", reply: "from deepseek", healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	content, id, err := g.Chat(context.Background(), chatReq(), &RequestOptions{Preferred: "deepseek"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "deepseek" || content != "from deepseek" {
		t.Errorf("Chat = (%q, %q), want the preferred provider", content, id)
	}
	if fakes["qwen"].calls != 0 {
		t.Error("selection ran despite an explicit preferred provider")
	}
}

func TestChatPreferredNoFailover(t *testing.T) {
	upstream := &providers.CallError{Provider: "qwen", Status: 502, Message: "down"}
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", errs: []error{upstream}, healthy: true},
		"deepseek": {name: "deepseek", reply: "unused", healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	_, _, err := g.Chat(context.Background(), chatReq(), &RequestOptions{Preferred: "qwen"})
	var ce *providers.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want the provider error surfaced", err)
	}
	if fakes["deepseek"].calls != 0 {
		t.Error("preferred provider must not fail over")
	}
}

func TestChatPreferredUnknown(t *testing.T) {
	g, _ := newTestGateway(t, map[string]*fakeLLM{
		"qwen": {name: "qwen", reply: "x", healthy: true},
	})

	_, _, err := g.Chat(context.Background(), chatReq(), &RequestOptions{Preferred: "ghost"})
	var nf *providers.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
}

func TestChatExhaustedReturnsLastError(t *testing.T) {
	e1 := &providers.CallError{Provider: "qwen", Status: 500, Message: "a"}
	e2 := &providers.CallError{Provider: "deepseek", Status: 503, Message: "b"}
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", errs: []error{e1}, healthy: true},
		"deepseek": {name: "deepseek", errs: []error{e2}, healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	_, _, err := g.Chat(context.Background(), chatReq(), nil)
	var ce *providers.CallError
	if !errors.As(err, &ce) || ce.Status != 503 {
		t.Fatalf("error = %v, want the last upstream error", err)
	}
}

func TestChatNoProvidersRegistered(t *testing.T) {
	g, _ := newTestGateway(t, map[string]*fakeLLM{})

	_, _, err := g.Chat(context.Background(), chatReq(), nil)
	var na *providers.NoAvailableError
	if !errors.As(err, &na) {
		t.Fatalf("error = %v, want NoAvailableError", err)
	}
}

func TestChatStrategySelection(t *testing.T) {
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", reply: "from qwen", healthy: true},
		"deepseek": {name: "deepseek", reply: "from deepseek", healthy: true},
	}
	g, reg := newTestGateway(t, fakes)

	// Make deepseek the clear cost winner.
	dc, _ := reg.Config(providers.CapLLM, "deepseek")
	dc.CostPerCall = 0.0001

	_, id, err := g.Chat(context.Background(), chatReq(), &RequestOptions{Strategy: router.StrategyCost})
	if err != nil {
		t.Fatal(err)
	}
	if id != "deepseek" {
		t.Errorf("cost strategy served by %q, want deepseek", id)
	}
}

func TestChatJSON(t *testing.T) {
	fakes := map[string]*fakeLLM{
		"qwen": {name: "qwen", reply: `{"title":"Moon"}`, healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	var out struct {
		Title string `json:"title"`
	}
	id, err := g.ChatJSON(context.Background(), chatReq(), nil, &out)
	if err != nil {
		t.Fatal(err)
	}
	if id != "qwen" || out.Title != "Moon" {
		t.Errorf("ChatJSON = (%q, %+v)", id, out)
	}
}

func TestChatJSONInvalidReply(t *testing.T) {
	fakes := map[string]*fakeLLM{
		"qwen": {name: "qwen", reply: "not json at all", healthy: true},
	}
	g, _ := newTestGateway(t, fakes)

	var out map[string]any
	if _, err := g.ChatJSON(context.Background(), chatReq(), nil, &out); err == nil {
		t.Fatal("expected error for a non-JSON reply")
	}
}

func TestChatTimeoutMapsToTimeoutError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	reg.RegisterLLM("qwen", &hangingLLM{}, seedCfg("qwen", 10))

	log := discardLogger()
	store := cache.NewMemoryCache(ctx)
	defer store.Close()
	g := New(reg, router.New(reg, router.Config{}, log), health.New(store, log), log, Options{
		CallTimeout: 20 * time.Millisecond,
	})

	_, _, err := g.Chat(ctx, chatReq(), nil)
	var te *providers.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
	if te.Provider != "qwen" {
		t.Errorf("TimeoutError provider = %q", te.Provider)
	}
}

type hangingLLM struct{}

func (h *hangingLLM) Name() string { return "qwen" }

func (h *hangingLLM) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (h *hangingLLM) CheckHealth(ctx context.Context) error { return nil }

func TestChatCallerCancelDoesNotTripBreaker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	reg.RegisterLLM("qwen", &hangingLLM{}, seedCfg("qwen", 10))
	second := &fakeLLM{name: "deepseek", reply: "unused", healthy: true}
	reg.RegisterLLM("deepseek", second, seedCfg("deepseek", 8))

	log := discardLogger()
	rt := router.New(reg, router.Config{}, log)
	store := cache.NewMemoryCache(ctx)
	defer store.Close()
	g := New(reg, rt, health.New(store, log), log, Options{})

	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	_, _, err := g.Chat(ctx, chatReq(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if second.calls != 0 {
		t.Error("failover ran for a canceled caller")
	}

	// A client disconnect is not a provider failure and must leave the
	// routing state alone.
	for _, s := range rt.Stats()[providers.CapLLM] {
		if s.ID != "qwen" {
			continue
		}
		if s.TotalCalls != 0 || s.Errors1m != 0 {
			t.Errorf("qwen stats = calls:%d errors_1m:%d, want untouched", s.TotalCalls, s.Errors1m)
		}
		if s.Breaker != "closed" {
			t.Errorf("breaker = %s, want closed", s.Breaker)
		}
	}
}

func TestSynthesizeAndListVoices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	reg.RegisterTTS("aliyun", &fakeTTS{
		name:   "aliyun",
		voices: []providers.Voice{{ID: "zhixiaobai", Name: "Xiaobai", Gender: "female", Language: "zh-CN"}},
	}, seedCfg("aliyun", 10))

	log := discardLogger()
	rt := router.New(reg, router.Config{}, log)
	store := cache.NewMemoryCache(ctx)
	defer store.Close()
	g := New(reg, rt, health.New(store, log), log, Options{})

	res, id, err := g.SynthesizeSpeech(ctx, &providers.SpeechRequest{Text: "hello"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "aliyun" || string(res.Audio) != "aliyun" {
		t.Errorf("SynthesizeSpeech = (%q, %q)", res.Audio, id)
	}

	voices, id, err := g.ListVoices(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "aliyun" || len(voices) != 1 || voices[0].ID != "zhixiaobai" {
		t.Errorf("ListVoices = (%v, %q)", voices, id)
	}
}

func TestHealthReportAndAvailabilityFlip(t *testing.T) {
	fakes := map[string]*fakeLLM{
		"qwen":     {name: "qwen", reply: "x", healthy: true},
		"deepseek": {name: "deepseek", reply: "y", healthy: false},
	}
	g, _ := newTestGateway(t, fakes)
	ctx := context.Background()

	report := g.HealthReport(ctx)
	llm := report[providers.CapLLM]
	if len(llm) != 2 {
		t.Fatalf("report has %d llm entries, want 2", len(llm))
	}
	byID := map[string]bool{}
	for _, e := range llm {
		byID[e.ID] = e.Healthy
	}
	if !byID["qwen"] || byID["deepseek"] {
		t.Errorf("report = %v", byID)
	}

	if err := g.MarkUnavailable(providers.CapLLM, "qwen"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := g.Chat(ctx, chatReq(), nil); err == nil {
		t.Fatal("chat succeeded with the only healthy provider disabled")
	}

	// Flip deepseek healthy, restore qwen, drop the stale verdict.
	fakes["deepseek"].healthy = true
	if err := g.MarkAvailable(ctx, providers.CapLLM, "deepseek"); err != nil {
		t.Fatal(err)
	}
	if _, id, err := g.Chat(ctx, chatReq(), nil); err != nil || id != "deepseek" {
		t.Errorf("Chat after flip = (%q, %v), want deepseek", id, err)
	}
}
