// Package pipeline runs the filter decision chain for one request.
//
// DESIGN: Linear stages with early exit: validate, pre-screen, AI-result
// cache, AI provider, verdict composition. The pipeline never fails a
// request because of a cache, counter or AI error; only validation errors
// reach the caller. Rate limiting, credential checks and the route-level
// response cache wrap the pipeline in the HTTP layer, so Process assumes
// an authenticated, in-budget request.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/cache"
	"github.com/modguard/filter-gateway/internal/config"
	"github.com/modguard/filter-gateway/internal/filter"
	"github.com/modguard/filter-gateway/internal/prescreen"
	"github.com/modguard/filter-gateway/internal/provider"
	"github.com/modguard/filter-gateway/internal/stats"
)

// Trace reports what one Process call did, for tracker writes and response
// headers in the HTTP layer.
type Trace struct {
	UsedAI     bool
	AICacheHit bool
	Elapsed    time.Duration
}

// Pipeline wires the decision stages.
type Pipeline struct {
	providers *provider.Registry
	aiCache   *cache.Cache
	tracker   *stats.Tracker
	caches    config.CachesConfig
}

// New builds a pipeline. tracker may be nil in tests.
func New(providers *provider.Registry, aiCache *cache.Cache, tracker *stats.Tracker, caches config.CachesConfig) *Pipeline {
	return &Pipeline{providers: providers, aiCache: aiCache, tracker: tracker, caches: caches}
}

// Process decides one request. The returned error is always a validation
// error; every downstream failure degrades to an allow verdict instead.
func (p *Pipeline) Process(ctx context.Context, req *filter.Request) (*filter.Result, *Trace, error) {
	start := time.Now()
	trace := &Trace{}

	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	cfg := req.Config.Normalize()

	pre := prescreen.Screen(req.Text, cfg)
	if !pre.NeedsAIReview && req.Image == "" {
		trace.Elapsed = time.Since(start)
		return p.allowVerdict(req, cfg), trace, nil
	}

	analysis, cacheHit := p.analyze(ctx, req, cfg, trace)
	trace.AICacheHit = cacheHit

	result := p.compose(req, cfg, pre, analysis)
	trace.Elapsed = time.Since(start)
	return result, trace, nil
}

// allowVerdict is the clean-pass result.
func (p *Pipeline) allowVerdict(req *filter.Request, cfg filter.Config) *filter.Result {
	r := &filter.Result{
		Blocked: false,
		Flags:   []string{},
		Reason:  filter.ReasonClean,
	}
	if cfg.ReturnFilteredMessage {
		r.FilteredContent = req.Text
	}
	return r
}

// analyze consults the AI-result cache, then the provider. Cached verdicts
// are keyed on exactly the prompt inputs, so a hit is safe across tiers.
func (p *Pipeline) analyze(ctx context.Context, req *filter.Request, cfg filter.Config, trace *Trace) (*provider.Analysis, bool) {
	key := AIResultKey(req)
	if payload, ok := p.aiCache.Get(key); ok {
		var a provider.Analysis
		if err := json.Unmarshal(payload, &a); err == nil {
			return &a, true
		}
		p.aiCache.Delete(key)
	}

	trace.UsedAI = true
	apiType := "text"
	if req.Image != "" {
		apiType = "image"
	}

	start := time.Now()
	analysis := p.providers.Analyze(ctx, req.Tier, provider.Input{
		Text:    req.Text,
		History: req.History,
		Config:  cfg,
	})
	if p.tracker != nil {
		p.tracker.RecordAPICall(ctx, apiType, !analysis.Cacheable(), time.Since(start))
	}

	if analysis.Cacheable() {
		if payload, err := json.Marshal(analysis); err == nil {
			p.aiCache.Set(key, payload, p.aiResultTTL(analysis))
		}
	}
	return analysis, false
}

// aiResultTTL is adaptive: clear-allow verdicts are stable and live long,
// blocked or marginal ones are re-checked sooner.
func (p *Pipeline) aiResultTTL(a *provider.Analysis) time.Duration {
	if a.IsViolation || len(a.Flags) > 0 {
		return p.caches.AIResultBlockTTL
	}
	return p.caches.AIResult.TTL
}

// compose builds the final verdict from the pre-screen and AI outcomes.
// A blocked result carries the union of both flag sets; an allowed result
// carries no violation flags (only the error marker after AI failure).
func (p *Pipeline) compose(req *filter.Request, cfg filter.Config, pre prescreen.Result, analysis *provider.Analysis) *filter.Result {
	if !analysis.IsViolation {
		r := &filter.Result{Blocked: false, Flags: []string{}, Reason: filter.ReasonClean}
		if failed(analysis) {
			r.Flags = []string{filter.FlagError}
			r.Reason = filter.ReasonAIFailed
		}
		if cfg.ReturnFilteredMessage {
			r.FilteredContent = req.Text
		}
		return r
	}

	r := &filter.Result{
		Blocked: true,
		Flags:   unionFlags(pre.Flags, analysis.Flags),
		Reason:  analysis.Reason,
	}
	if r.Reason == "" {
		r.Reason = pre.Reason
	}
	if r.Reason == "" {
		r.Reason = "content flagged by moderation analysis"
	}
	if cfg.ReturnFilteredMessage {
		r.FilteredContent = analysis.FilteredContent
		if r.FilteredContent == "" {
			r.FilteredContent = prescreen.Redact(req.Text, pre.Matches)
		}
	}
	return r
}

func failed(a *provider.Analysis) bool {
	for _, f := range a.Flags {
		if f == filter.FlagError {
			return true
		}
	}
	return false
}

// unionFlags merges both sets preserving pre-screen order first.
func unionFlags(pre, ai []string) []string {
	out := make([]string, 0, len(pre)+len(ai))
	seen := make(map[string]bool, len(pre)+len(ai))
	for _, set := range [][]string{pre, ai} {
		for _, f := range set {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Warm logs the cache configuration at startup. Kept separate from New so
// wiring code can build pipelines silently in tests.
func (p *Pipeline) Warm() {
	log.Info().
		Int("aiCacheEntries", p.aiCache.Len()).
		Dur("allowTTL", p.caches.AIResult.TTL).
		Dur("blockTTL", p.caches.AIResultBlockTTL).
		Msg("decision pipeline ready")
}
