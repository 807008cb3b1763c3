package router

import (
	"fmt"

	"github.com/storyflow/ai-gateway/internal/registry"
)

// Strategy names a provider selection policy.
type Strategy string

const (
	// StrategyCost picks the cheapest provider.
	StrategyCost Strategy = "cost"

	// StrategyQuality picks the provider with the highest priority weighted
	// by its success rate.
	StrategyQuality Strategy = "quality"

	// StrategyFastest picks the provider with the lowest average latency.
	StrategyFastest Strategy = "fastest"

	// StrategyRoundRobin cycles through eligible providers per capability.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyBalanced blends priority, cost, success rate and latency.
	StrategyBalanced Strategy = "balanced"
)

// DefaultStrategy is used when a request names no strategy.
const DefaultStrategy = StrategyBalanced

// ParseStrategy validates a strategy name. The empty string maps to
// DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return DefaultStrategy, nil
	case StrategyCost, StrategyQuality, StrategyFastest, StrategyRoundRobin, StrategyBalanced:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("router: unknown strategy %q", s)
}

// candidate is one eligible provider with the inputs scoring needs.
type candidate struct {
	id           string
	cfg          *registry.ProviderConfig
	avgLatency1m float64
}

// latency returns the rolling-minute average when one exists, otherwise the
// long-run profile value.
func (c candidate) latency() float64 {
	if c.avgLatency1m > 0 {
		return c.avgLatency1m
	}
	return c.cfg.AvgLatency
}

// Balanced score weights.
const (
	wPriority = 0.4
	wCost     = 0.3
	wSuccess  = 0.2
	wLatency  = 0.1
)

// pick returns the id of the best-scoring candidate. Ties keep the earliest
// candidate, which follows registration order by construction.
func pick(strategy Strategy, candidates []candidate) string {
	best := 0
	switch strategy {
	case StrategyCost:
		for i := 1; i < len(candidates); i++ {
			if candidates[i].cfg.CostPerCall < candidates[best].cfg.CostPerCall {
				best = i
			}
		}

	case StrategyQuality:
		for i := 1; i < len(candidates); i++ {
			if qualityScore(candidates[i]) > qualityScore(candidates[best]) {
				best = i
			}
		}

	case StrategyFastest:
		for i := 1; i < len(candidates); i++ {
			if candidates[i].latency() < candidates[best].latency() {
				best = i
			}
		}

	default: // StrategyBalanced
		maxCost, maxLatency := 0.0, 0.0
		for _, c := range candidates {
			if c.cfg.CostPerCall > maxCost {
				maxCost = c.cfg.CostPerCall
			}
			if c.latency() > maxLatency {
				maxLatency = c.latency()
			}
		}
		for i := 1; i < len(candidates); i++ {
			if balancedScore(candidates[i], maxCost, maxLatency) > balancedScore(candidates[best], maxCost, maxLatency) {
				best = i
			}
		}
	}
	return candidates[best].id
}

func qualityScore(c candidate) float64 {
	return float64(c.cfg.Priority) * c.cfg.SuccessRate
}

// balancedScore normalises cost and latency against the most expensive and
// slowest candidate in the pool. When every candidate reports zero for a
// dimension, that term contributes its full weight.
func balancedScore(c candidate, maxCost, maxLatency float64) float64 {
	costTerm := 1.0
	if maxCost > 0 {
		costTerm = 1 - c.cfg.CostPerCall/maxCost
	}
	latencyTerm := 1.0
	if maxLatency > 0 {
		latencyTerm = 1 - c.latency()/maxLatency
	}
	return wPriority*float64(c.cfg.Priority)/10 +
		wCost*costTerm +
		wSuccess*c.cfg.SuccessRate +
		wLatency*latencyTerm
}
