// Package ratelimit enforces fixed-window per-caller request limits.
//
// DESIGN: Windows align to wall-clock multiples of the window length, so
// every instance agrees on window boundaries without coordination. Redis
// holds the authoritative counter per (caller, route, window); a local
// shadow of the last-seen count serves the deny fast path and keeps the
// gateway limping (local-only counting) through a Redis outage rather than
// failing closed.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/config"
	"github.com/modguard/filter-gateway/internal/store"
)

// Decision is the outcome for one request, carrying everything the
// X-RateLimit response headers need.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	// RetryAfter is zero when allowed.
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter is the fixed-window limiter.
type Limiter struct {
	counters store.CounterStore
	cfg      config.RateLimitConfig

	mu      sync.Mutex
	windows map[string]*window

	// now is swappable for tests.
	now func() time.Time
}

// New builds a limiter over the shared counter store.
func New(counters store.CounterStore, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		counters: counters,
		cfg:      cfg,
		windows:  make(map[string]*window),
		now:      time.Now,
	}
}

// LimitFor returns the effective limit for a route.
func (l *Limiter) LimitFor(route string) int {
	if limit, ok := l.cfg.Routes[route]; ok {
		return limit
	}
	return l.cfg.Limit
}

// Allow counts one request for (caller, route) and decides it. The counter
// is incremented before the comparison, so request N+1 in a window is the
// first denied one.
func (l *Limiter) Allow(ctx context.Context, callerID, route string) Decision {
	limit := l.LimitFor(route)
	now := l.now()
	start := now.Truncate(l.cfg.Window)
	reset := start.Add(l.cfg.Window)

	localKey := callerID + "|" + route

	// Fast deny: the local shadow already shows the window exhausted.
	l.mu.Lock()
	w, ok := l.windows[localKey]
	if ok && w.start.Equal(start) && w.count >= limit {
		l.mu.Unlock()
		return denied(limit, reset, now)
	}
	l.mu.Unlock()

	count, err := l.redisCount(ctx, callerID, route, start)
	if err != nil {
		// Redis down: count locally so a single instance still enforces
		// the limit approximately.
		count = l.bumpLocal(localKey, start)
		log.Warn().Err(err).Msg("rate limit falling back to local counting")
	} else {
		l.setLocal(localKey, start, count)
	}

	if count > limit {
		return denied(limit, reset, now)
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		Reset:     reset,
	}
}

func (l *Limiter) redisCount(ctx context.Context, callerID, route string, start time.Time) (int, error) {
	key := fmt.Sprintf("ratelimit:%s:%s:%d", callerID, route, start.Unix())
	count, err := l.counters.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// Expiry at twice the window keeps the key alive through clock
		// skew between instances; precision is not needed past that.
		if err := l.counters.Expire(ctx, key, 2*l.cfg.Window); err != nil {
			log.Debug().Err(err).Msg("rate limit key expire failed")
		}
	}
	return int(count), nil
}

func (l *Limiter) bumpLocal(localKey string, start time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[localKey]
	if !ok || !w.start.Equal(start) {
		w = &window{start: start}
		l.windows[localKey] = w
	}
	w.count++
	l.dropStaleLocked(start)
	return w.count
}

func (l *Limiter) setLocal(localKey string, start time.Time, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[localKey]
	if !ok || !w.start.Equal(start) {
		w = &window{start: start}
		l.windows[localKey] = w
	}
	if count > w.count {
		w.count = count
	}
	l.dropStaleLocked(start)
}

// dropStaleLocked evicts windows older than the current one. Called under
// the mutex on every write; the map stays bounded by the active caller set.
func (l *Limiter) dropStaleLocked(current time.Time) {
	for k, w := range l.windows {
		if w.start.Before(current) {
			delete(l.windows, k)
		}
	}
}

func denied(limit int, reset, now time.Time) Decision {
	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		Reset:      reset,
		RetryAfter: reset.Sub(now),
	}
}
