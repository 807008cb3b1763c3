// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Breaker state values exported through gateway_circuit_breaker_state.
const (
	CBClosed   = 0
	CBOpen     = 1
	CBHalfOpen = 2
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_selections_total{capability,provider,strategy}
	selections *prometheus.CounterVec

	// gateway_upstream_attempts_total{capability,provider,outcome}
	upstreamAttempts *prometheus.CounterVec

	// gateway_upstream_attempt_duration_seconds{capability,provider,outcome}
	upstreamDuration *prometheus.HistogramVec

	// gateway_failover_events_total{capability,from,to}
	failoverEvents *prometheus.CounterVec

	// gateway_failover_exhausted_total{capability}
	failoverExhausted *prometheus.CounterVec

	// gateway_circuit_breaker_state{capability,provider} — 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// gateway_provider_health{capability,provider}
	providerHealth *prometheus.GaugeVec

	// gateway_health_cache_hits_total / _misses_total
	healthCacheHits   prometheus.Counter
	healthCacheMisses prometheus.Counter

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_selections_total",
				Help: "Provider selections by capability and strategy",
			},
			[]string{"capability", "provider", "strategy"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_attempts_total",
				Help: "Total upstream provider attempts (includes failovers)",
			},
			[]string{"capability", "provider", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_attempt_duration_seconds",
				Help:    "Upstream provider attempt duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"capability", "provider", "outcome"},
		),

		failoverEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_failover_events_total",
				Help: "Failovers from one provider to the next",
			},
			[]string{"capability", "from", "to"},
		),

		failoverExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_failover_exhausted_total",
				Help: "Requests that ran out of providers to try",
			},
			[]string{"capability"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half-open)",
			},
			[]string{"capability", "provider"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_provider_health",
				Help: "Last health verdict per provider (1=healthy, 0=unhealthy)",
			},
			[]string{"capability", "provider"},
		),

		healthCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_health_cache_hits_total",
			Help: "Health checks answered from the verdict cache",
		}),

		healthCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_health_cache_misses_total",
			Help: "Health checks that had to run a probe",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.selections,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.failoverEvents,
		r.failoverExhausted,
		r.circuitBreakerState,
		r.providerHealth,
		r.healthCacheHits,
		r.healthCacheMisses,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

// RecordSelection counts one routing decision.
func (r *Registry) RecordSelection(capability, provider, strategy string) {
	r.selections.WithLabelValues(capability, provider, strategy).Inc()
}

// ObserveUpstreamAttempt records one provider call. outcome is "success",
// "error", or "timeout".
func (r *Registry) ObserveUpstreamAttempt(capability, provider, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(capability, provider, outcome).Inc()
	r.upstreamDuration.WithLabelValues(capability, provider, outcome).Observe(dur.Seconds())
}

// RecordFailover counts one hop from a failed provider to its replacement.
func (r *Registry) RecordFailover(capability, from, to string) {
	r.failoverEvents.WithLabelValues(capability, from, to).Inc()
}

// RecordFailoverExhausted counts a request that failed on every provider.
func (r *Registry) RecordFailoverExhausted(capability string) {
	r.failoverExhausted.WithLabelValues(capability).Inc()
}

// SetCircuitBreaker exports the breaker state for one provider.
func (r *Registry) SetCircuitBreaker(capability, provider string, state float64) {
	r.circuitBreakerState.WithLabelValues(capability, provider).Set(state)
}

// SetProviderHealth exports the last health verdict for one provider.
func (r *Registry) SetProviderHealth(capability, provider string, ok bool) {
	v := 0.0
	if ok {
		v = 1.0
	}
	r.providerHealth.WithLabelValues(capability, provider).Set(v)
}

// HealthCacheHit counts a verdict served from cache.
func (r *Registry) HealthCacheHit() { r.healthCacheHits.Inc() }

// HealthCacheMiss counts a verdict that required a probe.
func (r *Registry) HealthCacheMiss() { r.healthCacheMisses.Inc() }

// SetBuildInfo pins the build version label to 1.
func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

// Handler returns the fasthttp handler serving the /metrics endpoint.
func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

// PromRegistry exposes the underlying registry for tests.
func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
