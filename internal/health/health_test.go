package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/storyflow/ai-gateway/internal/cache"
	"github.com/storyflow/ai-gateway/internal/providers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingProbe returns a probe that counts invocations and returns err.
func countingProbe(calls *atomic.Int64, err error) Probe {
	return func(ctx context.Context) error {
		calls.Add(1)
		return err
	}
}

func newRedisChecker(t *testing.T, opts ...Option) (*Checker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, discardLogger(), opts...), mr
}

func TestCheckCachesHealthyVerdict(t *testing.T) {
	c, _ := newRedisChecker(t)

	var calls atomic.Int64
	probe := countingProbe(&calls, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !c.Check(ctx, providers.CapLLM, "qwen", probe) {
			t.Fatal("healthy provider reported unhealthy")
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("probe ran %d times within the TTL, want 1", n)
	}
}

func TestCheckCachesFailedVerdict(t *testing.T) {
	c, _ := newRedisChecker(t)

	var calls atomic.Int64
	probe := countingProbe(&calls, errors.New("upstream 500"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if c.Check(ctx, providers.CapImage, "wanx", probe) {
			t.Fatal("failed provider reported healthy")
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("probe ran %d times, a failed verdict should also be cached", n)
	}
}

func TestCheckReprobesAfterTTL(t *testing.T) {
	c, mr := newRedisChecker(t)

	var calls atomic.Int64
	probe := countingProbe(&calls, nil)
	ctx := context.Background()

	c.Check(ctx, providers.CapLLM, "qwen", probe)
	mr.FastForward(providers.HealthCacheTTL + time.Second)
	c.Check(ctx, providers.CapLLM, "qwen", probe)

	if n := calls.Load(); n != 2 {
		t.Errorf("probe ran %d times across TTL expiry, want 2", n)
	}
}

func TestCheckKeysAreScopedPerCapability(t *testing.T) {
	c, _ := newRedisChecker(t)

	var llmCalls, imgCalls atomic.Int64
	ctx := context.Background()

	c.Check(ctx, providers.CapLLM, "shared", countingProbe(&llmCalls, nil))
	c.Check(ctx, providers.CapImage, "shared", countingProbe(&imgCalls, errors.New("down")))

	if !c.Check(ctx, providers.CapLLM, "shared", countingProbe(&llmCalls, nil)) {
		t.Error("llm verdict clobbered by the image probe for the same id")
	}
	if llmCalls.Load() != 1 || imgCalls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", llmCalls.Load(), imgCalls.Load())
	}
}

func TestCheckSurvivesCacheOutage(t *testing.T) {
	c, mr := newRedisChecker(t)
	mr.Close()

	var calls atomic.Int64
	ctx := context.Background()

	// With the store dead every check probes, but the verdict still flows.
	if !c.Check(ctx, providers.CapLLM, "qwen", countingProbe(&calls, nil)) {
		t.Fatal("verdict lost to a cache outage")
	}
	if !c.Check(ctx, providers.CapLLM, "qwen", countingProbe(&calls, nil)) {
		t.Fatal("verdict lost to a cache outage")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("probe ran %d times with a dead store, want 2", n)
	}
}

func TestCheckNilStore(t *testing.T) {
	c := New(nil, discardLogger())

	var calls atomic.Int64
	ctx := context.Background()

	c.Check(ctx, providers.CapTTS, "aliyun", countingProbe(&calls, nil))
	c.Check(ctx, providers.CapTTS, "aliyun", countingProbe(&calls, nil))

	if n := calls.Load(); n != 2 {
		t.Errorf("probe ran %d times with memoization disabled, want 2", n)
	}
}

func TestCheckProbeTimeout(t *testing.T) {
	c := New(nil, discardLogger(), WithProbeTimeout(20*time.Millisecond))

	hung := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	start := time.Now()
	if c.Check(context.Background(), providers.CapVideo, "kling", hung) {
		t.Error("hung probe reported healthy")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe not cut off by its timeout, took %v", elapsed)
	}
}

func TestConcurrentChecksCollapse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := cache.NewMemoryCache(ctx)
	defer store.Close()
	c := New(store, discardLogger())

	var calls atomic.Int64
	release := make(chan struct{})
	slow := func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Check(ctx, providers.CapLLM, "qwen", slow) {
				t.Error("collapsed check lost its verdict")
			}
		}()
	}

	// Give the goroutines time to pile up on the singleflight key, then let
	// the one real probe finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("probe ran %d times under concurrent checks, want 1", n)
	}
}

func TestCanceledCallerDoesNotPoisonVerdict(t *testing.T) {
	c, _ := newRedisChecker(t)

	probe := func(ctx context.Context) error {
		// The probe must run detached from the caller: a verdict derived from
		// the caller's cancellation would be cached for the full TTL.
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if !c.Check(ctx, providers.CapLLM, "qwen", probe) {
		t.Fatal("canceled caller produced an unhealthy verdict")
	}
	if !c.Check(context.Background(), providers.CapLLM, "qwen", probe) {
		t.Fatal("cached verdict poisoned by the canceled caller")
	}
}

func TestInvalidateForcesReprobe(t *testing.T) {
	c, _ := newRedisChecker(t)

	var calls atomic.Int64
	probe := countingProbe(&calls, nil)
	ctx := context.Background()

	c.Check(ctx, providers.CapLLM, "qwen", probe)
	c.Invalidate(ctx, providers.CapLLM, "qwen")
	c.Check(ctx, providers.CapLLM, "qwen", probe)

	if n := calls.Load(); n != 2 {
		t.Errorf("probe ran %d times across Invalidate, want 2", n)
	}
}

func TestResultHook(t *testing.T) {
	type verdict struct {
		healthy, cached bool
	}
	var mu sync.Mutex
	var got []verdict
	hook := func(cap providers.Capability, id string, healthy, cached bool) {
		mu.Lock()
		got = append(got, verdict{healthy, cached})
		mu.Unlock()
	}
	c, _ := newRedisChecker(t, WithResultHook(hook))

	var calls atomic.Int64
	ctx := context.Background()
	c.Check(ctx, providers.CapLLM, "qwen", countingProbe(&calls, nil))
	c.Check(ctx, providers.CapLLM, "qwen", countingProbe(&calls, nil))

	want := []verdict{{true, false}, {true, true}}
	if len(got) != len(want) {
		t.Fatalf("hook saw %d verdicts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("verdict[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
