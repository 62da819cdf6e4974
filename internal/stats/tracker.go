// Package stats tracks live counters in Redis and periodically drains them
// into Postgres rollups.
//
// DESIGN: The tracker sits on the request hot path and must never slow or
// fail a request: every write is a single Redis command and every error is
// logged and swallowed. The aggregation worker (aggregator.go) is the only
// reader that also resets the counters; queries (query.go) read live Redis
// for the current window and Postgres for history.
package stats

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/monitoring"
	"github.com/modguard/filter-gateway/internal/store"
)

// Counter key layout. The aggregator scans by these prefixes, so renaming
// one means renaming it in both places.
const (
	keyRequestsTotal   = "stats:requests:total"
	keyRequestsBlocked = "stats:requests:blocked"
	keyRequestsCached  = "stats:requests:cached"
	keyLatencyList     = "stats:latency:all"

	userKeyPrefix = "stats:requests:user:"
	flagKeyPrefix = "stats:flags:"
	apiKeyPrefix  = "api:stats:"
)

// API hash fields.
const (
	fieldCalls     = "calls"
	fieldErrors    = "errors"
	fieldTotalTime = "total_time"
)

// latencyHardCap bounds the live latency list between aggregation runs.
const latencyHardCap = 10000

// Tracker records per-request counters.
type Tracker struct {
	counters store.CounterStore
	metrics  *monitoring.Metrics
}

// NewTracker builds a tracker over the shared counter store.
func NewTracker(counters store.CounterStore, metrics *monitoring.Metrics) *Tracker {
	return &Tracker{counters: counters, metrics: metrics}
}

// RecordRequest counts one finished request. Flags are counted only for
// blocked requests, matching what the flag rollups mean downstream.
func (t *Tracker) RecordRequest(ctx context.Context, userID string, blocked, cached bool, flags []string, latency time.Duration) {
	t.incr(ctx, keyRequestsTotal)
	if blocked {
		t.incr(ctx, keyRequestsBlocked)
		for _, f := range flags {
			t.incr(ctx, flagKeyPrefix+f)
		}
	}
	if cached {
		t.incr(ctx, keyRequestsCached)
	}
	if userID != "" {
		t.incr(ctx, userKeyPrefix+userID)
	}

	ms := strconv.FormatInt(latency.Milliseconds(), 10)
	if err := t.counters.LPush(ctx, keyLatencyList, ms); err != nil {
		t.fail(err, keyLatencyList)
	} else if err := t.counters.LTrim(ctx, keyLatencyList, 0, latencyHardCap-1); err != nil {
		t.fail(err, keyLatencyList)
	}
}

// RecordAPICall counts one upstream AI call in the per-type hash.
func (t *Tracker) RecordAPICall(ctx context.Context, apiType string, failed bool, elapsed time.Duration) {
	key := apiKeyPrefix + apiType
	if _, err := t.counters.HIncrBy(ctx, key, fieldCalls, 1); err != nil {
		t.fail(err, key)
		return
	}
	if failed {
		if _, err := t.counters.HIncrBy(ctx, key, fieldErrors, 1); err != nil {
			t.fail(err, key)
		}
	}
	if _, err := t.counters.HIncrBy(ctx, key, fieldTotalTime, elapsed.Milliseconds()); err != nil {
		t.fail(err, key)
	}
}

func (t *Tracker) incr(ctx context.Context, key string) {
	if _, err := t.counters.Incr(ctx, key); err != nil {
		t.fail(err, key)
	}
}

func (t *Tracker) fail(err error, key string) {
	if t.metrics != nil {
		t.metrics.RecordTrackerFailure()
	}
	log.Warn().Err(err).Str("key", key).Msg("stats write failed")
}
