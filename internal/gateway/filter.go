// Filter submit handlers.
//
// DESIGN: Every submit route funnels into serveFilter, which wraps the
// pipeline with the route-level response cache and the per-request counter
// writes. Cached entries hold the encoded verdict; a hit replays it without
// touching the pipeline. Error-degraded verdicts are never stored, so a
// provider outage cannot pin stale failures into the cache.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/filter"
	"github.com/modguard/filter-gateway/internal/pipeline"
)

// maxBatchItems bounds one batch submission.
const maxBatchItems = 20

func (g *Gateway) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filter.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	g.serveFilter(w, r, &req)
}

// handleFilterText is the text-only variant; an image payload is rejected
// rather than silently dropped.
func (g *Gateway) handleFilterText(w http.ResponseWriter, r *http.Request) {
	var req filter.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Image != "" {
		writeError(w, "image not accepted on the text route", http.StatusBadRequest)
		return
	}
	g.serveFilter(w, r, &req)
}

// handleFilterImage is the image variant; text may accompany the image as
// caption context.
func (g *Gateway) handleFilterImage(w http.ResponseWriter, r *http.Request) {
	var req filter.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Image == "" {
		writeError(w, "image is required on the image route", http.StatusBadRequest)
		return
	}
	g.serveFilter(w, r, &req)
}

func (g *Gateway) handleFilterBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []filter.Request `json:"items"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body.Items) == 0 {
		writeError(w, "items must not be empty", http.StatusBadRequest)
		return
	}
	if len(body.Items) > maxBatchItems {
		writeError(w, "batch exceeds "+strconv.Itoa(maxBatchItems)+" items", http.StatusBadRequest)
		return
	}

	start := time.Now()
	userID := userIDFrom(r.Context())
	results := make([]*filter.Result, len(body.Items))
	for i := range body.Items {
		result, trace, err := g.pipe.Process(r.Context(), &body.Items[i])
		if err != nil {
			writeError(w, "item "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
		results[i] = result
		g.record(r, userID, result, trace, false)
	}

	w.Header().Set("X-Processing-Time", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	writeJSON(w, http.StatusOK, results)
}

// serveFilter decides one request through the response cache and pipeline.
func (g *Gateway) serveFilter(w http.ResponseWriter, r *http.Request, req *filter.Request) {
	start := time.Now()
	userID := userIDFrom(r.Context())

	// The bare flag counts: ?nocache with no value also opts out.
	useCache := !r.URL.Query().Has("nocache")
	key := pipeline.ResponseKey(r.Method, r.URL.Path, userID, req)

	if useCache {
		if payload, ok := g.respCache.Get(key); ok {
			var result filter.Result
			if err := json.Unmarshal(payload, &result); err == nil {
				trace := &pipeline.Trace{Elapsed: time.Since(start)}
				g.record(r, userID, &result, trace, true)
				w.Header().Set("X-Processing-Time", strconv.FormatInt(trace.Elapsed.Milliseconds(), 10))
				writeJSON(w, http.StatusOK, &result)
				return
			}
			g.respCache.Delete(key)
		}
	}

	result, trace, err := g.pipe.Process(r.Context(), req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if useCache && !degraded(result) {
		if payload, err := json.Marshal(result); err == nil {
			g.respCache.Set(key, payload, g.cfg.Caches.Response.TTL)
		}
	}

	g.record(r, userID, result, trace, false)
	w.Header().Set("X-Processing-Time", strconv.FormatInt(trace.Elapsed.Milliseconds(), 10))
	writeJSON(w, http.StatusOK, result)
}

// record writes the per-request counters and metrics. Failures inside the
// tracker are its own problem; this never delays the response path beyond
// the Redis round trips.
func (g *Gateway) record(r *http.Request, userID string, result *filter.Result, trace *pipeline.Trace, fromCache bool) {
	if g.tracker != nil {
		g.tracker.RecordRequest(r.Context(), userID, result.Blocked, fromCache, result.Flags, trace.Elapsed)
	}
	if g.metrics != nil {
		source := "prescreen"
		switch {
		case fromCache, trace.AICacheHit:
			source = "cache"
		case trace.UsedAI:
			source = "ai"
		}
		g.metrics.RecordRequest(result.Blocked, source, trace.Elapsed)
	}
	if result.Blocked {
		log.Debug().Str("userId", userID).Strs("flags", result.Flags).Msg("request blocked")
	}
}

// degraded reports whether a verdict came out of a failed AI consultation.
func degraded(result *filter.Result) bool {
	for _, f := range result.Flags {
		if f == filter.FlagError {
			return true
		}
	}
	return false
}
