// Stats read endpoints, the aggregation trigger and the health probe.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/stats"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365

	// aggregateTimeout bounds a triggered run after the HTTP request that
	// started it has already been answered.
	aggregateTimeout = 2 * time.Minute
)

func historyDays(r *http.Request) int {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days <= 0 {
		return defaultHistoryDays
	}
	if days > maxHistoryDays {
		return maxHistoryDays
	}
	return days
}

func (g *Gateway) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := g.query.Summary(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats summary failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (g *Gateway) handleStatsPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := g.query.APIMonitor(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats performance failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

// handleStatsAIMonitor exposes the live provider view: circuit breaker
// states per tier plus the per-type call counters.
func (g *Gateway) handleStatsAIMonitor(w http.ResponseWriter, r *http.Request) {
	perf, err := g.query.APIMonitor(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats ai-monitor failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"breakers": g.providers.BreakerStates(),
		"api":      perf,
	})
}

func (g *Gateway) handleStatsHistorical(w http.ResponseWriter, r *http.Request) {
	days := historyDays(r)
	series, err := g.query.Timeseries(r.Context(), days)
	if err != nil {
		log.Error().Err(err).Msg("stats historical failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	flags, err := g.query.TopFlags(r.Context(), days, 10)
	if err != nil {
		log.Error().Err(err).Msg("stats top flags failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"days":     days,
		"requests": series,
		"topFlags": flags,
	})
}

// handleStatsCombined joins the live summary with the rollup history in a
// single dashboard payload.
func (g *Gateway) handleStatsCombined(w http.ResponseWriter, r *http.Request) {
	summary, err := g.query.Summary(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats combined failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	series, err := g.query.Timeseries(r.Context(), historyDays(r))
	if err != nil {
		log.Error().Err(err).Msg("stats combined failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"live":       summary,
		"historical": series,
	})
}

func (g *Gateway) handleStatsUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, "user id required", http.StatusBadRequest)
		return
	}
	activity, err := g.query.UserActivity(r.Context(), userID, historyDays(r))
	if err != nil {
		log.Error().Err(err).Msg("stats user failed")
		writeError(w, "stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

// handleStatsAggregate kicks off one aggregation run and answers before it
// finishes. Counters are cleared only when ?clear=true and the run ends
// fully successful; the run decides that, not this handler.
func (g *Gateway) handleStatsAggregate(w http.ResponseWriter, r *http.Request) {
	if g.aggregator.Running() {
		writeError(w, "aggregation already in progress", http.StatusConflict)
		return
	}
	clear := r.URL.Query().Get("clear") == "true"

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), aggregateTimeout)
		defer cancel()
		if _, err := g.aggregator.Run(ctx, clear); err != nil && !errors.Is(err, stats.ErrAggregationRunning) {
			log.Error().Err(err).Msg("triggered aggregation failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"status":  "processing",
	})
}

// handleHealth reports per-dependency reachability. Any unreachable
// dependency degrades the whole probe to 503.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{
		"api":      "healthy",
		"redis":    "healthy",
		"database": "healthy",
	}
	healthy := true
	if err := g.counters.Ping(ctx); err != nil {
		services["redis"] = "unreachable"
		healthy = false
	}
	if err := g.db.Ping(ctx); err != nil {
		services["database"] = "unreachable"
		healthy = false
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"services": services,
	})
}
