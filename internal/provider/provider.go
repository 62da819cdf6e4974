// Package provider abstracts the AI moderation backends.
//
// DESIGN: A single capability — AnalyzeText — with two interchangeable
// transports: a plain HTTP/JSON chat-completions endpoint (ChatProvider)
// and an SSE streaming endpoint (StreamProvider). The model tier (fast /
// normal / pro) selects the concrete instance from a fixed table built at
// startup. Prompt construction is deterministic in (config, history, text)
// and identical across providers, so the AI-result cache key works across
// them.
//
// Providers never block content on their own failure: the registry maps
// any transport or breaker error to an allow verdict carrying the "error"
// flag, which the caches refuse to store.
package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/modguard/filter-gateway/internal/config"
	"github.com/modguard/filter-gateway/internal/filter"
	"github.com/modguard/filter-gateway/internal/monitoring"
)

const (
	// DefaultTimeout bounds one provider call.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxTokens bounds the model's output.
	DefaultMaxTokens = 300

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500
)

// Input is the deterministic input to one analysis call.
type Input struct {
	Text    string
	History []filter.Message
	Config  filter.Config
}

// Analysis is the parsed provider verdict.
type Analysis struct {
	IsViolation     bool     `json:"isViolation"`
	Flags           []string `json:"flags"`
	Reason          string   `json:"reason"`
	FilteredContent string   `json:"filteredContent,omitempty"`
}

// Cacheable reports whether the analysis may populate the AI-result cache.
// Verdicts produced after provider failure carry the error flag and must
// not be cached, or a transient outage would be remembered for hours.
func (a *Analysis) Cacheable() bool {
	for _, f := range a.Flags {
		if f == filter.FlagError {
			return false
		}
	}
	return true
}

// Failure is the verdict used when the provider cannot be consulted.
func Failure() *Analysis {
	return &Analysis{
		IsViolation: false,
		Flags:       []string{filter.FlagError},
		Reason:      filter.ReasonAIFailed,
	}
}

// Provider is the single-method moderation capability.
type Provider interface {
	// Name identifies the provider for logs and metrics.
	Name() string

	// AnalyzeText asks the model whether text violates the disallowed
	// categories in in.Config. Implementations honor ctx cancellation and
	// apply their configured per-call timeout.
	AnalyzeText(ctx context.Context, in Input) (*Analysis, error)
}

// Registry holds one provider per tier behind a circuit breaker.
type Registry struct {
	providers map[string]Provider
	metrics   *monitoring.Metrics
}

// NewRegistry builds the tier table from configuration. Each tier gets its
// own breaker so a failing pro endpoint doesn't darken the fast tier.
func NewRegistry(cfg config.ProvidersConfig, metrics *monitoring.Metrics) *Registry {
	r := &Registry{providers: make(map[string]Provider), metrics: metrics}
	for tier, pc := range cfg {
		var p Provider
		if pc.Streaming {
			p = NewStreamProvider(tier, pc)
		} else {
			p = NewChatProvider(tier, pc)
		}
		r.providers[tier] = withBreaker(p)
	}
	return r
}

// Tier returns the provider for a tier, falling back to "normal".
func (r *Registry) Tier(name string) Provider {
	if p, ok := r.providers[name]; ok {
		return p
	}
	return r.providers[config.TierNormal]
}

// Analyze runs the tier's provider and absorbs every failure into the
// allow-with-error verdict. It never returns nil.
func (r *Registry) Analyze(ctx context.Context, tier string, in Input) *Analysis {
	p := r.Tier(tier)
	if p == nil {
		log.Error().Str("tier", tier).Msg("no provider configured")
		return Failure()
	}

	start := time.Now()
	analysis, err := p.AnalyzeText(ctx, in)
	elapsed := time.Since(start)
	if err != nil {
		outcome := "error"
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			outcome = "open"
		}
		if r.metrics != nil {
			r.metrics.RecordAICall(tier, outcome, elapsed)
		}
		log.Warn().Err(err).Str("tier", tier).Dur("elapsed", elapsed).
			Msg("AI analysis failed, allowing content")
		return Failure()
	}
	if r.metrics != nil {
		r.metrics.RecordAICall(tier, "ok", elapsed)
	}
	return analysis
}

// BreakerStates reports each tier's circuit breaker state for monitoring.
func (r *Registry) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.providers))
	for tier, p := range r.providers {
		if bp, ok := p.(*breakerProvider); ok {
			out[tier] = bp.cb.State().String()
		}
	}
	return out
}

// breakerProvider wraps a provider with a circuit breaker. An open breaker
// short-circuits to an error without touching the network, which keeps the
// pipeline inside its latency budget during an upstream outage.
type breakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

func withBreaker(p Provider) *breakerProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &breakerProvider{inner: p, cb: cb}
}

func (b *breakerProvider) Name() string { return b.inner.Name() }

func (b *breakerProvider) AnalyzeText(ctx context.Context, in Input) (*Analysis, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.AnalyzeText(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Analysis), nil
}

var _ Provider = (*breakerProvider)(nil)
