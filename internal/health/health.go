// Package health memoizes provider health probes.
//
// A probe is a cheap vendor call (a one-token completion, a model listing)
// that proves the credential works and the service answers. Probes are
// expensive relative to routing decisions, so verdicts are cached with a TTL
// and concurrent checks for the same provider collapse into a single probe.
package health

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/storyflow/ai-gateway/internal/cache"
	"github.com/storyflow/ai-gateway/internal/providers"
)

const (
	verdictHealthy   = "1"
	verdictUnhealthy = "0"
)

// Probe is a provider health check. It returns nil when the provider is
// reachable and serving.
type Probe func(ctx context.Context) error

// Checker caches probe verdicts. It is safe for concurrent use.
type Checker struct {
	store        cache.Cache
	ttl          time.Duration
	probeTimeout time.Duration
	log          *slog.Logger

	group singleflight.Group

	// onResult is an optional hook for metrics export; called with the
	// verdict of every resolved check, cached or probed.
	onResult func(cap providers.Capability, id string, healthy, cached bool)
}

// Option configures a Checker.
type Option func(*Checker)

// WithTTL overrides the verdict lifetime. Default: providers.HealthCacheTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Checker) { c.ttl = ttl }
}

// WithProbeTimeout bounds a single probe. Default: providers.HealthProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) { c.probeTimeout = d }
}

// WithResultHook installs a callback invoked with every check verdict.
func WithResultHook(fn func(cap providers.Capability, id string, healthy, cached bool)) Option {
	return func(c *Checker) { c.onResult = fn }
}

// New creates a Checker over store. A nil store disables memoization: every
// check runs its probe.
func New(store cache.Cache, log *slog.Logger, opts ...Option) *Checker {
	c := &Checker{
		store:        store,
		ttl:          providers.HealthCacheTTL,
		probeTimeout: providers.HealthProbeTimeout,
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(cap providers.Capability, id string) string {
	return "provider_health:" + string(cap) + ":" + id
}

// Check reports whether (cap, id) is healthy. A cached verdict is returned
// as-is; otherwise probe runs under the probe timeout and its verdict is
// cached for the TTL. Failed probes are cached too, so a dead provider is
// not hammered on every request.
//
// Cache store failures are non-fatal: the verdict is still returned, it just
// is not memoized.
func (c *Checker) Check(ctx context.Context, cap providers.Capability, id string, probe Probe) bool {
	k := key(cap, id)

	if c.store != nil {
		if raw, ok := c.store.Get(ctx, k); ok {
			healthy := string(raw) == verdictHealthy
			c.report(cap, id, healthy, true)
			return healthy
		}
	}

	// Collapse concurrent misses for the same provider into one probe.
	v, _, _ := c.group.Do(k, func() (any, error) {
		return c.probeAndStore(ctx, k, cap, id, probe), nil
	})

	healthy, _ := v.(bool)
	c.report(cap, id, healthy, false)
	return healthy
}

func (c *Checker) probeAndStore(ctx context.Context, k string, cap providers.Capability, id string, probe Probe) bool {
	// The probe outcome is shared with collapsed waiters and cached for the
	// TTL, so it must not inherit the triggering caller's cancellation.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.probeTimeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	elapsed := time.Since(start)

	verdict := verdictHealthy
	if err != nil {
		verdict = verdictUnhealthy
		c.log.Warn("health probe failed",
			slog.String("capability", string(cap)),
			slog.String("provider", id),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
	} else {
		c.log.Debug("health probe ok",
			slog.String("capability", string(cap)),
			slog.String("provider", id),
			slog.Duration("elapsed", elapsed))
	}

	if c.store != nil {
		if serr := c.store.Set(context.WithoutCancel(ctx), k, []byte(verdict), c.ttl); serr != nil {
			c.log.Warn("health verdict not cached",
				slog.String("provider", id),
				slog.String("error", serr.Error()))
		}
	}

	return err == nil
}

// Invalidate drops the cached verdict for (cap, id) so the next check
// re-probes. Used when an operator flips a provider's availability.
func (c *Checker) Invalidate(ctx context.Context, cap providers.Capability, id string) {
	if c.store == nil {
		return
	}
	if err := c.store.Delete(ctx, key(cap, id)); err != nil {
		c.log.Warn("health verdict invalidation failed",
			slog.String("provider", id),
			slog.String("error", err.Error()))
	}
}

func (c *Checker) report(cap providers.Capability, id string, healthy, cached bool) {
	if c.onResult != nil {
		c.onResult(cap, id, healthy, cached)
	}
}
