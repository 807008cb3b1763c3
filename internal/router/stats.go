package router

import (
	"github.com/storyflow/ai-gateway/internal/providers"
)

// ProviderStats is a point-in-time snapshot of one provider's routing profile
// and live counters, as served by the stats endpoint.
type ProviderStats struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"display_name"`
	Priority     int     `json:"priority"`
	CostPerCall  float64 `json:"cost_per_call"`
	AvgLatency   float64 `json:"avg_latency"`
	SuccessRate  float64 `json:"success_rate"`
	Available    bool    `json:"available"`
	TotalCalls   int64   `json:"total_calls"`
	FailureCount int     `json:"failure_count"`

	Calls1m      int     `json:"calls_1m"`
	Errors1m     int     `json:"errors_1m"`
	AvgLatency1m float64 `json:"avg_latency_1m"`
	Breaker      string  `json:"circuit_breaker"`
}

// Stats returns a snapshot for every registered provider, grouped by
// capability and ordered by registration.
func (r *Router) Stats() map[providers.Capability][]ProviderStats {
	out := make(map[providers.Capability][]ProviderStats, len(r.caps))
	now := r.now()

	for _, cap := range providers.Capabilities() {
		cs := r.caps[cap]
		ids := r.reg.List(cap)
		if len(ids) == 0 {
			continue
		}

		cs.mu.Lock()
		stats := make([]ProviderStats, 0, len(ids))
		for _, id := range ids {
			pc, err := r.reg.Config(cap, id)
			if err != nil {
				continue
			}
			pm := cs.get(id, now)
			pm.rollWindow(now)

			breaker := "closed"
			switch pm.state {
			case cbOpen:
				breaker = "open"
			case cbHalfOpen:
				breaker = "half_open"
			}

			stats = append(stats, ProviderStats{
				ID:           pc.ID,
				DisplayName:  pc.DisplayName,
				Priority:     pc.Priority,
				CostPerCall:  pc.CostPerCall,
				AvgLatency:   pc.AvgLatency,
				SuccessRate:  pc.SuccessRate,
				Available:    pc.Available,
				TotalCalls:   pc.TotalCalls,
				FailureCount: pc.FailureCount,
				Calls1m:      pm.calls1m,
				Errors1m:     pm.errors1m,
				AvgLatency1m: pm.avgLatency1m,
				Breaker:      breaker,
			})
		}
		cs.mu.Unlock()

		out[cap] = stats
	}
	return out
}
