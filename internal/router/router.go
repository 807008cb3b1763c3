// Package router selects the provider to serve each capability call and
// tracks per-provider runtime health: rolling error counts, latency moving
// averages, and a three-state circuit breaker.
//
// The router never performs I/O. It reads static routing profiles from the
// registry, applies a selection strategy over the eligible candidates, and is
// fed back call outcomes by the gateway.
package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/storyflow/ai-gateway/internal/providers"
	"github.com/storyflow/ai-gateway/internal/registry"
)

// cbState represents the operational state of a per-provider circuit breaker.
//
//	cbClosed   — normal operation; the provider is eligible for selection.
//	cbOpen     — provider is failing; it is skipped until the cooldown elapses.
//	cbHalfOpen — recovery trial; exactly one request is allowed through.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// Config holds router tuning parameters. Zero values fall back to the
// package-level defaults defined in providers/provider.go.
type Config struct {
	// ErrorThreshold is the number of failures within the rolling minute that
	// trips the breaker. Default: providers.CBErrorThreshold (5).
	ErrorThreshold int

	// Cooldown is how long the breaker stays open before allowing a single
	// trial request. Default: providers.CBCooldown (60s).
	Cooldown time.Duration
}

func (c *Config) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return providers.CBErrorThreshold
}

func (c *Config) cooldown() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return providers.CBCooldown
}

// providerMetrics holds the live counters for one provider under one
// capability. Guarded by the owning capState mutex.
type providerMetrics struct {
	calls1m      int
	errors1m     int
	windowStart  time.Time // start of the current rolling-minute window
	avgLatency1m float64   // seconds, exponential moving average
	lastError    time.Time

	state         cbState
	openedAt      time.Time // when the breaker was tripped
	probeInflight bool      // true while a half-open trial is in flight
}

// capState holds all mutable routing state for one capability.
type capState struct {
	mu       sync.Mutex
	metrics  map[string]*providerMetrics
	rrCursor uint64
}

func (cs *capState) get(id string, now time.Time) *providerMetrics {
	pm, ok := cs.metrics[id]
	if !ok {
		pm = &providerMetrics{state: cbClosed, windowStart: now}
		cs.metrics[id] = pm
	}
	return pm
}

// rollWindow resets the rolling-minute counters when the window has expired.
func (pm *providerMetrics) rollWindow(now time.Time) {
	if now.Sub(pm.windowStart) > time.Minute {
		pm.calls1m = 0
		pm.errors1m = 0
		pm.windowStart = now
	}
}

// emaAlpha weights new latency observations in the moving averages.
const emaAlpha = 0.1

func ema(avg, observed float64) float64 {
	if avg == 0 {
		return observed
	}
	return avg*(1-emaAlpha) + observed*emaAlpha
}

// Router is the per-capability provider selector. It is safe for concurrent
// use from multiple goroutines.
type Router struct {
	reg *registry.Registry
	cfg Config
	log *slog.Logger

	caps map[providers.Capability]*capState

	now func() time.Time
}

// New creates a Router over reg with cfg thresholds.
func New(reg *registry.Registry, cfg Config, log *slog.Logger) *Router {
	caps := make(map[providers.Capability]*capState, 4)
	for _, cap := range providers.Capabilities() {
		caps[cap] = &capState{metrics: make(map[string]*providerMetrics)}
	}
	return &Router{
		reg:  reg,
		cfg:  cfg,
		log:  log,
		caps: caps,
		now:  time.Now,
	}
}

// eligible reports whether the breaker allows id right now, without mutating
// breaker state. Open breakers whose cooldown has elapsed count as eligible;
// the half-open transition is committed in Select only for the winner.
func (r *Router) eligibleLocked(pm *providerMetrics, now time.Time) bool {
	switch pm.state {
	case cbClosed:
		return true
	case cbOpen:
		return now.Sub(pm.openedAt) >= r.cfg.cooldown()
	case cbHalfOpen:
		return !pm.probeInflight
	}
	return true
}

// commitLocked performs the breaker transition for the provider that won
// selection: an open breaker past its cooldown becomes half-open with the
// trial slot taken; a half-open breaker takes the trial slot.
func (r *Router) commitLocked(cap providers.Capability, id string, pm *providerMetrics, now time.Time) {
	switch pm.state {
	case cbOpen:
		pm.state = cbHalfOpen
		pm.probeInflight = true
		r.log.Info("circuit breaker half-open",
			slog.String("capability", string(cap)),
			slog.String("provider", id))
	case cbHalfOpen:
		pm.probeInflight = true
	}
}

// Select picks a provider for cap using strategy, skipping excluded ids,
// administratively disabled providers, and providers whose breaker is open.
// When every real provider is ineligible the mock provider is returned if it
// is registered and not itself excluded; otherwise NoAvailableError.
func (r *Router) Select(cap providers.Capability, strategy Strategy, exclude map[string]bool) (string, error) {
	cs, ok := r.caps[cap]
	if !ok {
		return "", &providers.NoAvailableError{Capability: cap}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := r.now()

	var candidates []candidate
	for _, id := range r.reg.List(cap) {
		if exclude[id] {
			continue
		}
		pc, err := r.reg.Config(cap, id)
		if err != nil || !pc.Available {
			continue
		}
		pm := cs.get(id, now)
		if !r.eligibleLocked(pm, now) {
			continue
		}
		candidates = append(candidates, candidate{id: id, cfg: pc, avgLatency1m: pm.avgLatency1m})
	}

	if len(candidates) == 0 {
		return "", &providers.NoAvailableError{Capability: cap}
	}

	// The mock tier is a fallback, not a peer: exclude it from scoring
	// whenever at least one real provider is eligible.
	real := candidates[:0:0]
	for _, c := range candidates {
		if c.id != providers.MockID {
			real = append(real, c)
		}
	}
	if len(real) > 0 {
		candidates = real
	}

	var winner string
	if strategy == StrategyRoundRobin {
		winner = candidates[cs.rrCursor%uint64(len(candidates))].id
		cs.rrCursor++
	} else {
		winner = pick(strategy, candidates)
	}

	r.commitLocked(cap, winner, cs.get(winner, now), now)
	return winner, nil
}

// Admit reports whether id may receive a call right now, committing the
// half-open transition when it does. Used by the paths that name a provider
// directly instead of going through Select: the preferred-provider override
// and the fallback-order walk.
func (r *Router) Admit(cap providers.Capability, id string) bool {
	cs, ok := r.caps[cap]
	if !ok {
		return false
	}
	pc, err := r.reg.Config(cap, id)
	if err != nil || !pc.Available {
		return false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := r.now()
	pm := cs.get(id, now)
	if !r.eligibleLocked(pm, now) {
		return false
	}
	r.commitLocked(cap, id, pm, now)
	return true
}

// Release returns an admitted trial slot without recording an outcome. Used
// when an admitted provider is skipped before any call is made, e.g. because
// its health check came back negative.
func (r *Router) Release(cap providers.Capability, id string) {
	cs, ok := r.caps[cap]
	if !ok {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if pm, ok := cs.metrics[id]; ok {
		pm.probeInflight = false
	}
}

// RecordSuccess feeds back a successful call. Latency updates both the
// long-run profile average and the rolling-minute average, the consecutive
// failure streak resets, and the breaker closes regardless of its previous
// state.
func (r *Router) RecordSuccess(cap providers.Capability, id string, latency time.Duration) {
	cs, ok := r.caps[cap]
	if !ok {
		return
	}
	pc, err := r.reg.Config(cap, id)
	if err != nil {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := r.now()
	sec := latency.Seconds()

	pc.TotalCalls++
	pc.TotalLatency += sec
	pc.FailureCount = 0
	pc.AvgLatency = ema(pc.AvgLatency, sec)

	pm := cs.get(id, now)
	pm.rollWindow(now)
	pm.calls1m++
	pm.avgLatency1m = ema(pm.avgLatency1m, sec)

	if pm.state != cbClosed {
		r.log.Info("circuit breaker closed",
			slog.String("capability", string(cap)),
			slog.String("provider", id))
	}
	pm.state = cbClosed
	pm.errors1m = 0
	pm.probeInflight = false
}

// RecordFailure feeds back a failed call. The success rate is recomputed from
// the consecutive failure streak, and the breaker opens once the rolling
// error count reaches the threshold. A failed half-open trial reopens the
// breaker immediately.
func (r *Router) RecordFailure(cap providers.Capability, id string, latency time.Duration) {
	cs, ok := r.caps[cap]
	if !ok {
		return
	}
	pc, err := r.reg.Config(cap, id)
	if err != nil {
		return
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := r.now()

	pc.TotalCalls++
	pc.TotalLatency += latency.Seconds()
	pc.FailureCount++
	pc.SuccessRate = 1 - float64(pc.FailureCount)/float64(pc.TotalCalls)

	pm := cs.get(id, now)
	pm.rollWindow(now)
	pm.calls1m++
	pm.errors1m++
	pm.lastError = now
	pm.probeInflight = false

	switch {
	case pm.state == cbHalfOpen:
		// Failed trial: straight back to open with a fresh cooldown.
		pm.state = cbOpen
		pm.openedAt = now
		r.log.Warn("circuit breaker reopened after failed trial",
			slog.String("capability", string(cap)),
			slog.String("provider", id))
	case pm.state == cbClosed && pm.errors1m >= r.cfg.errorThreshold():
		pm.state = cbOpen
		pm.openedAt = now
		r.log.Warn("circuit breaker opened",
			slog.String("capability", string(cap)),
			slog.String("provider", id),
			slog.Int("errors_1m", pm.errors1m))
	}
}

// MarkAvailable flips the administrative flag on and force-closes the
// breaker, clearing the rolling error count.
func (r *Router) MarkAvailable(cap providers.Capability, id string) error {
	pc, err := r.reg.Config(cap, id)
	if err != nil {
		return err
	}
	cs := r.caps[cap]

	cs.mu.Lock()
	defer cs.mu.Unlock()

	pc.Available = true
	pc.FailureCount = 0

	pm := cs.get(id, r.now())
	pm.state = cbClosed
	pm.errors1m = 0
	pm.probeInflight = false
	return nil
}

// MarkUnavailable flips the administrative flag off. The provider is skipped
// by Select until MarkAvailable is called.
func (r *Router) MarkUnavailable(cap providers.Capability, id string) error {
	pc, err := r.reg.Config(cap, id)
	if err != nil {
		return err
	}
	cs := r.caps[cap]

	cs.mu.Lock()
	defer cs.mu.Unlock()

	pc.Available = false
	return nil
}

// BreakerState returns "closed", "open", or "half_open" for metrics export
// and the stats endpoint.
func (r *Router) BreakerState(cap providers.Capability, id string) string {
	cs, ok := r.caps[cap]
	if !ok {
		return "closed"
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	pm, ok := cs.metrics[id]
	if !ok {
		return "closed"
	}
	switch pm.state {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
