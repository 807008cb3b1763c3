package app

import (
	"context"
	"fmt"
	"log/slog"

	gwCache "github.com/storyflow/ai-gateway/internal/cache"
	"github.com/storyflow/ai-gateway/internal/gateway"
	"github.com/storyflow/ai-gateway/internal/health"
	"github.com/storyflow/ai-gateway/internal/logger"
	"github.com/storyflow/ai-gateway/internal/metrics"
	"github.com/storyflow/ai-gateway/internal/providers"
	"github.com/storyflow/ai-gateway/internal/registry"
	"github.com/storyflow/ai-gateway/internal/router"
)

// initInfra establishes optional external connections.
// Redis is only required when HEALTH_CACHE_MODE=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.HealthCache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initProviders builds the adapter registry from configured credentials.
// At least one credential (or mock mode) is enforced by config validation.
func (a *App) initProviders(_ context.Context) error {
	a.reg = registry.Build(a.cfg, a.log)
	return nil
}

// initServices creates the health cache store, the router, the async call
// logger and the Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	var store gwCache.Cache
	switch a.cfg.HealthCache.Mode {
	case "redis":
		store = gwCache.NewRedisCacheFromClient(a.rdb)
		a.log.Info("health cache backend: redis")
	case "memory":
		a.memCache = gwCache.NewMemoryCache(ctx)
		store = a.memCache
		a.log.Info("health cache backend: memory (in-process)")
	case "none":
		a.log.Info("health cache disabled, every check probes")
	default:
		return fmt.Errorf("unknown health cache mode: %s", a.cfg.HealthCache.Mode)
	}

	prom := a.prom
	a.hc = health.New(store, a.log,
		health.WithTTL(a.cfg.HealthCache.TTL),
		health.WithProbeTimeout(a.cfg.HealthCache.ProbeTimeout),
		health.WithResultHook(func(cap providers.Capability, id string, healthy, cached bool) {
			if cached {
				prom.HealthCacheHit()
			} else {
				prom.HealthCacheMiss()
			}
		}),
	)

	a.rt = router.New(a.reg, router.Config{
		ErrorThreshold: a.cfg.CircuitBreaker.ErrorThreshold,
		Cooldown:       a.cfg.CircuitBreaker.Cooldown,
	}, a.log)

	cl, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("call logger: %w", err)
	}
	a.callLogger = cl

	return nil
}

// initGateway wires the capability façade and the management routes.
func (a *App) initGateway(_ context.Context) error {
	a.gw = gateway.New(a.reg, a.rt, a.hc, a.log, gateway.Options{
		Metrics:           a.prom,
		CallLogger:        a.callLogger,
		CallTimeout:       a.cfg.Timeouts.Call,
		GenerationTimeout: a.cfg.Timeouts.Generation,
	})

	a.mgmt = &gateway.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}
