package gateway

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/storyflow/ai-gateway/internal/providers"
	"github.com/storyflow/ai-gateway/pkg/apierr"
)

// ManagementRoutes holds optional handler functions registered alongside the
// built-in management routes.
type ManagementRoutes struct {
	Metrics fasthttp.RequestHandler
}

// Handler builds the management API handler:
//
//	GET  /health     — health verdict per provider
//	GET  /readiness  — liveness for orchestrators
//	GET  /stats      — routing profile and live counters per provider
//	GET  /metrics    — Prometheus export (when configured)
//	POST /admin/providers/{capability}/{id}/availability — flip a provider
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()

	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)
	r.GET("/stats", g.handleStats)
	r.POST("/admin/providers/{capability}/{id}/availability", g.handleAvailability)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		securityHeaders,
	)
}

// Start serves the management API on addr (e.g. ":8080").
func (g *Gateway) Start(addr string, mgmt *ManagementRoutes) error {
	srv := &fasthttp.Server{
		Handler:      g.Handler(mgmt),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe(addr)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, g.HealthReport(ctx))
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]string{"status": "ok"})
}

func (g *Gateway) handleStats(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, g.Stats())
}

// availabilityRequest is the body of the admin availability flip.
type availabilityRequest struct {
	Available bool `json:"available"`
}

func (g *Gateway) handleAvailability(ctx *fasthttp.RequestCtx) {
	capability := providers.Capability(ctx.UserValue("capability").(string))
	id := ctx.UserValue("id").(string)

	valid := false
	for _, c := range providers.Capabilities() {
		if c == capability {
			valid = true
			break
		}
	}
	if !valid {
		apierr.WriteInvalidRequest(ctx, "unknown capability "+string(capability))
		return
	}

	var req availabilityRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, "invalid JSON body")
		return
	}

	var err error
	if req.Available {
		err = g.MarkAvailable(ctx, capability, id)
	} else {
		err = g.MarkUnavailable(capability, id)
	}
	if err != nil {
		apierr.WriteError(ctx, err)
		return
	}

	writeJSON(ctx, map[string]any{
		"capability": capability,
		"id":         id,
		"available":  req.Available,
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
