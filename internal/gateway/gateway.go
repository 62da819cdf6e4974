// Package gateway is the HTTP surface of the filter service.
//
// DESIGN: chi router with a layered middleware chain (panic recovery,
// request-ID logging, security headers, CORS) and three route groups:
// the authenticated, rate-limited filter routes; the credential routes;
// and the admin-gated stats routes. Handlers stay thin: decode, delegate
// to the pipeline or a service, encode. All cross-cutting verdict work
// (response cache, counters, rate-limit headers) lives in the filter
// handlers and middleware, never in the pipeline.
//
// FILES:
//   - gateway.go:    Gateway struct, router assembly, shared helpers
//   - middleware.go: recovery, logging, security, auth, rate limiting
//   - filter.go:     filter submit handlers and the response cache wrap
//   - apikey.go:     credential issue / revoke / validate
//   - statshttp.go:  stats reads, aggregation trigger, health
package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modguard/filter-gateway/internal/auth"
	"github.com/modguard/filter-gateway/internal/cache"
	"github.com/modguard/filter-gateway/internal/config"
	"github.com/modguard/filter-gateway/internal/monitoring"
	"github.com/modguard/filter-gateway/internal/pipeline"
	"github.com/modguard/filter-gateway/internal/provider"
	"github.com/modguard/filter-gateway/internal/ratelimit"
	"github.com/modguard/filter-gateway/internal/stats"
	"github.com/modguard/filter-gateway/internal/storage"
	"github.com/modguard/filter-gateway/internal/store"
)

// maxBodyBytes caps request bodies. Slightly above the text payload cap so
// a maximal text plus envelope still decodes.
const maxBodyBytes = 12 << 20

// Gateway holds every service a handler needs.
type Gateway struct {
	cfg        *config.Config
	pipe       *pipeline.Pipeline
	auth       *auth.Service
	limiter    *ratelimit.Limiter
	tracker    *stats.Tracker
	aggregator *stats.Aggregator
	query      *stats.Query
	providers  *provider.Registry
	respCache  *cache.Cache
	counters   store.CounterStore
	db         *storage.Store
	metrics    *monitoring.Metrics
}

// Deps bundles the constructor arguments; every field is required except
// Metrics.
type Deps struct {
	Config     *config.Config
	Pipeline   *pipeline.Pipeline
	Auth       *auth.Service
	Limiter    *ratelimit.Limiter
	Tracker    *stats.Tracker
	Aggregator *stats.Aggregator
	Query      *stats.Query
	Providers  *provider.Registry
	RespCache  *cache.Cache
	Counters   store.CounterStore
	DB         *storage.Store
	Metrics    *monitoring.Metrics
}

// New builds the gateway.
func New(d Deps) *Gateway {
	return &Gateway{
		cfg:        d.Config,
		pipe:       d.Pipeline,
		auth:       d.Auth,
		limiter:    d.Limiter,
		tracker:    d.Tracker,
		aggregator: d.Aggregator,
		query:      d.Query,
		providers:  d.Providers,
		respCache:  d.RespCache,
		counters:   d.Counters,
		db:         d.DB,
		metrics:    d.Metrics,
	}
}

// Handler assembles the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(g.panicRecovery)
	r.Use(g.requestLog)
	r.Use(g.security)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", "X-Admin-Token"},
		MaxAge:         86400,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(g.authenticate)
			r.Use(g.rateLimit)
			r.Post("/filter", g.handleFilter)
			r.Post("/filter/batch", g.handleFilterBatch)
			r.Post("/filter/text", g.handleFilterText)
			r.Post("/filter/image", g.handleFilterImage)
		})
		r.Get("/apikey", g.handleAPIKeyIssue)
		r.Post("/apikey/revoke", g.handleAPIKeyRevoke)
		r.Get("/apikey/validate", g.handleAPIKeyValidate)
	})

	r.Route("/stats", func(r chi.Router) {
		r.Use(g.adminOnly)
		r.Get("/summary", g.handleStatsSummary)
		r.Get("/performance", g.handleStatsPerformance)
		r.Get("/ai-monitor", g.handleStatsAIMonitor)
		r.Get("/historical", g.handleStatsHistorical)
		r.Get("/combined", g.handleStatsCombined)
		r.Get("/user/{id}", g.handleStatsUser)
		r.Post("/aggregate", g.handleStatsAggregate)
	})

	r.Get("/health", g.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (g *Gateway) corsOrigins() []string {
	if len(g.cfg.Server.CORSOrigins) > 0 {
		return g.cfg.Server.CORSOrigins
	}
	return []string{"http://localhost:*", "http://127.0.0.1:*"}
}

// writeJSON encodes v with the right content type. Encoding failures after
// the status line are unrecoverable and only logged by the caller's recover.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform error envelope.
func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// apiKeyFrom extracts the credential from the Authorization header or the
// apiKey query parameter, header first.
func apiKeyFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if key, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	return r.URL.Query().Get("apiKey")
}

// clientIP resolves the caller address, trusting forwarding headers only
// when the direct peer is loopback (a reverse proxy on the same host).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "127.0.0.1" || host == "::1" {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if idx := strings.Index(xff, ","); idx != -1 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	return host
}

// decodeBody decodes a JSON body with the size cap applied.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
