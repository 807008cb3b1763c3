// Package gateway is the capability façade over the provider fleet.
//
// Callers ask for an operation on a capability (chat, image, video, speech)
// without naming a vendor. The gateway resolves the provider through the
// router, gates it on a cached health check, invokes the adapter under a
// deadline, and feeds the outcome back into the routing state. On retryable
// failures it moves to the next candidate; a provider is never tried twice
// for the same logical request.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storyflow/ai-gateway/internal/health"
	"github.com/storyflow/ai-gateway/internal/logger"
	"github.com/storyflow/ai-gateway/internal/metrics"
	"github.com/storyflow/ai-gateway/internal/providers"
	"github.com/storyflow/ai-gateway/internal/registry"
	"github.com/storyflow/ai-gateway/internal/router"
)

// RequestOptions carries per-request routing overrides. The zero value means
// "walk the default fallback order".
type RequestOptions struct {
	// Preferred pins the request to one provider. It is still health-gated
	// and metered, but no failover happens on its behalf.
	Preferred string

	// Strategy selects providers through the scoring selector instead of the
	// fallback order. Ignored when Preferred is set.
	Strategy router.Strategy
}

func (o *RequestOptions) preferred() string {
	if o == nil {
		return ""
	}
	return o.Preferred
}

func (o *RequestOptions) strategy() router.Strategy {
	if o == nil {
		return ""
	}
	return o.Strategy
}

// Options holds optional Gateway dependencies. All fields are nil-safe.
type Options struct {
	// Metrics enables Prometheus metrics collection.
	Metrics *metrics.Registry

	// CallLogger receives one entry per upstream attempt.
	CallLogger *logger.Logger

	// CallTimeout bounds chat and speech calls.
	// Default: providers.CallTimeout (60s).
	CallTimeout time.Duration

	// GenerationTimeout bounds image and video calls.
	// Default: providers.GenerationTimeout (300s).
	GenerationTimeout time.Duration
}

// Gateway fans capability calls out to the provider fleet.
type Gateway struct {
	reg     *registry.Registry
	router  *router.Router
	health  *health.Checker
	log     *slog.Logger
	metrics *metrics.Registry
	calls   *logger.Logger

	callTimeout time.Duration
	genTimeout  time.Duration
}

// New creates a Gateway. reg, rt, hc and log are required.
func New(reg *registry.Registry, rt *router.Router, hc *health.Checker, log *slog.Logger, opts Options) *Gateway {
	g := &Gateway{
		reg:         reg,
		router:      rt,
		health:      hc,
		log:         log,
		metrics:     opts.Metrics,
		calls:       opts.CallLogger,
		callTimeout: opts.CallTimeout,
		genTimeout:  opts.GenerationTimeout,
	}
	if g.callTimeout <= 0 {
		g.callTimeout = providers.CallTimeout
	}
	if g.genTimeout <= 0 {
		g.genTimeout = providers.GenerationTimeout
	}
	return g
}

// Stats returns the router's per-provider snapshot.
func (g *Gateway) Stats() map[providers.Capability][]router.ProviderStats {
	return g.router.Stats()
}

// MarkAvailable re-enables a provider and drops its cached health verdict so
// the next request probes it fresh.
func (g *Gateway) MarkAvailable(ctx context.Context, cap providers.Capability, id string) error {
	if err := g.router.MarkAvailable(cap, id); err != nil {
		return err
	}
	g.health.Invalidate(ctx, cap, id)
	return nil
}

// MarkUnavailable takes a provider out of rotation.
func (g *Gateway) MarkUnavailable(cap providers.Capability, id string) error {
	return g.router.MarkUnavailable(cap, id)
}

// healthy runs the cached health check for (cap, id).
func (g *Gateway) healthy(ctx context.Context, cap providers.Capability, id string) bool {
	probe, err := g.reg.Prober(cap, id)
	if err != nil {
		return false
	}
	ok := g.health.Check(ctx, cap, id, health.Probe(probe))
	if g.metrics != nil {
		g.metrics.SetProviderHealth(string(cap), id, ok)
	}
	return ok
}

// nextCandidate yields the provider to try given what has been tried so far.
// Strategy mode consults the selector; default mode walks the capability's
// fallback order.
func (g *Gateway) nextCandidate(cap providers.Capability, strategy router.Strategy, tried map[string]bool) (string, error) {
	if strategy != "" {
		return g.router.Select(cap, strategy, tried)
	}
	for _, id := range providers.FallbackOrder[cap] {
		if tried[id] || !g.reg.Has(cap, id) {
			continue
		}
		if !g.router.Admit(cap, id) {
			tried[id] = true
			continue
		}
		return id, nil
	}
	return "", &providers.NoAvailableError{Capability: cap}
}

// dispatch resolves providers for cap and invokes call on each candidate
// until one succeeds, a non-retryable error aborts, or candidates run out.
func dispatch[T any](
	g *Gateway,
	ctx context.Context,
	cap providers.Capability,
	op string,
	opts *RequestOptions,
	timeout time.Duration,
	call func(ctx context.Context, id string) (T, error),
) (T, string, error) {
	var zero T

	if pref := opts.preferred(); pref != "" {
		if !g.reg.Has(cap, pref) {
			return zero, "", &providers.NotFoundError{Capability: cap, ID: pref}
		}
		if !g.router.Admit(cap, pref) {
			return zero, "", &providers.NoAvailableError{Capability: cap}
		}
		if !g.healthy(ctx, cap, pref) {
			g.router.Release(cap, pref)
			return zero, "", &providers.NoAvailableError{Capability: cap}
		}
		res, err := g.attempt(ctx, cap, op, pref, string(opts.strategy()), timeout, func(ctx context.Context) (any, error) {
			return call(ctx, pref)
		})
		if err != nil {
			return zero, "", err
		}
		return res.(T), pref, nil
	}

	strategy := opts.strategy()
	tried := make(map[string]bool)
	var lastErr error
	prev := ""

	for {
		id, err := g.nextCandidate(cap, strategy, tried)
		if err != nil {
			break
		}
		tried[id] = true

		if !g.healthy(ctx, cap, id) {
			g.router.Release(cap, id)
			g.log.Warn("provider unhealthy, skipping",
				slog.String("capability", string(cap)),
				slog.String("provider", id))
			continue
		}

		if g.metrics != nil {
			g.metrics.RecordSelection(string(cap), id, strategyLabel(strategy))
			if prev != "" {
				g.metrics.RecordFailover(string(cap), prev, id)
			}
		}

		res, err := g.attempt(ctx, cap, op, id, strategyLabel(strategy), timeout, func(ctx context.Context) (any, error) {
			return call(ctx, id)
		})
		if err == nil {
			if prev != "" {
				g.log.Info("failover succeeded",
					slog.String("capability", string(cap)),
					slog.String("from", prev),
					slog.String("to", id))
			}
			return res.(T), id, nil
		}

		lastErr = err
		if ctx.Err() != nil || !providers.Retryable(err) {
			return zero, "", err
		}
		prev = id
	}

	if g.metrics != nil {
		g.metrics.RecordFailoverExhausted(string(cap))
	}
	if lastErr != nil {
		return zero, "", lastErr
	}
	return zero, "", &providers.NoAvailableError{Capability: cap}
}

// attempt runs one provider call under its deadline and feeds the outcome
// back into routing state, metrics, and the call log.
func (g *Gateway) attempt(
	ctx context.Context,
	cap providers.Capability,
	op, id, strategy string,
	timeout time.Duration,
	call func(ctx context.Context) (any, error),
) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := call(callCtx)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		// A canceled caller is not a provider failure: the breaker and the
		// routing profile stay untouched, only the trial slot is freed.
		canceled := errors.Is(err, context.Canceled) && ctx.Err() != nil
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			err = &providers.TimeoutError{Provider: id, Elapsed: elapsed}
			outcome = "timeout"
		case canceled:
			outcome = "canceled"
		default:
			outcome = "error"
		}
		if canceled {
			g.router.Release(cap, id)
		} else {
			g.router.RecordFailure(cap, id, elapsed)
		}
		g.log.Warn("provider call failed",
			slog.String("capability", string(cap)),
			slog.String("provider", id),
			slog.String("operation", op),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()))
	} else {
		g.router.RecordSuccess(cap, id, elapsed)
	}

	if g.metrics != nil {
		g.metrics.ObserveUpstreamAttempt(string(cap), id, outcome, elapsed)
		g.metrics.SetCircuitBreaker(string(cap), id, breakerValue(g.router.BreakerState(cap, id)))
	}
	if g.calls != nil {
		entry := logger.CallLog{
			ID:         uuid.New(),
			Capability: cap,
			Provider:   id,
			Operation:  op,
			Strategy:   strategy,
			LatencyMs:  elapsed.Milliseconds(),
			Status:     outcome,
			CreatedAt:  start,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		g.calls.Log(entry)
	}

	if err != nil {
		return nil, err
	}
	return res, nil
}

func strategyLabel(s router.Strategy) string {
	if s == "" {
		return "fallback_order"
	}
	return string(s)
}

func breakerValue(state string) float64 {
	switch state {
	case "open":
		return metrics.CBOpen
	case "half_open":
		return metrics.CBHalfOpen
	default:
		return metrics.CBClosed
	}
}
