// Redis to Postgres aggregation worker.
package stats

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/config"
	"github.com/modguard/filter-gateway/internal/storage"
	"github.com/modguard/filter-gateway/internal/store"
)

// ErrAggregationRunning is returned when a run is requested while another
// is in flight.
var ErrAggregationRunning = errors.New("aggregation already in progress")

// readyTimeout bounds how long a run waits for the counter store before
// proceeding anyway; a run against an unreachable store fails its sub-tasks
// and clears nothing.
const readyTimeout = 10 * time.Second

// clearedKeyTTL bounds how long a zeroed per-flag or per-caller counter
// lingers after a clear before the key set is allowed to shrink.
const clearedKeyTTL = 7 * 24 * time.Hour

// Report is the outcome of one aggregation run.
type Report struct {
	Success bool            `json:"success"`
	Tasks   map[string]bool `json:"tasks"`
	Errors  []string        `json:"errors,omitempty"`
	Cleared bool            `json:"countersCleared"`
	Elapsed time.Duration   `json:"-"`
}

// Aggregator drains live counters into the Postgres rollups.
//
// Counters in Redis are absolute since the last clear, and every rollup
// upsert overwrites its bucket's row with the freshly read values. Running
// the worker twice against the same counters therefore converges to
// identical rows instead of double-counting.
type Aggregator struct {
	counters store.CounterStore
	db       *storage.Store
	cfg      config.StatsConfig

	inProgress atomic.Bool

	// now is swappable for tests.
	now func() time.Time
}

// NewAggregator builds the worker.
func NewAggregator(counters store.CounterStore, db *storage.Store, cfg config.StatsConfig) *Aggregator {
	return &Aggregator{counters: counters, db: db, cfg: cfg, now: time.Now}
}

// Running reports whether a run is in flight.
func (a *Aggregator) Running() bool { return a.inProgress.Load() }

// Run executes one aggregation pass. Sub-tasks are independent: one
// failing leaves the others' rows written. Counters are reset only when
// clear was requested AND every sub-task succeeded, so a partial run
// re-aggregates the same counters next time.
func (a *Aggregator) Run(ctx context.Context, clear bool) (*Report, error) {
	if !a.inProgress.CompareAndSwap(false, true) {
		return nil, ErrAggregationRunning
	}
	defer a.inProgress.Store(false)

	if !store.WaitReady(ctx, a.counters, readyTimeout) {
		log.Warn().Msg("counter store not ready, attempting aggregation anyway")
	}

	started := a.now()
	report := &Report{Tasks: make(map[string]bool)}

	run := func(name string, task func(context.Context, time.Time) error) {
		err := task(ctx, started)
		report.Tasks[name] = err == nil
		if err != nil {
			log.Error().Err(err).Str("task", name).Msg("aggregation sub-task failed")
			report.Errors = append(report.Errors, name+": "+err.Error())
		}
	}
	run("requests", a.aggregateRequests)
	run("flags", a.aggregateFlags)
	run("users", a.aggregateUsers)
	run("api_performance", a.aggregateAPI)

	report.Success = len(report.Errors) == 0
	if clear && report.Success {
		a.clearCounters(ctx)
		a.trimLatency(ctx)
		report.Cleared = true
	}
	report.Elapsed = a.now().Sub(started)
	log.Info().Bool("success", report.Success).Bool("cleared", report.Cleared).
		Dur("elapsed", report.Elapsed).Msg("aggregation run complete")
	if !report.Success {
		return report, errors.New("aggregation completed with failed sub-tasks")
	}
	return report, nil
}

// Schedule runs the worker on a fixed interval until ctx is canceled.
// Scheduled runs never clear; clearing is an explicit operator action.
func (a *Aggregator) Schedule(ctx context.Context) {
	if a.cfg.AggregationInterval <= 0 {
		log.Info().Msg("scheduled aggregation disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(a.cfg.AggregationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.Run(ctx, false); err != nil && !errors.Is(err, ErrAggregationRunning) {
					log.Error().Err(err).Msg("scheduled aggregation failed")
				}
			}
		}
	}()
}

func (a *Aggregator) aggregateRequests(ctx context.Context, now time.Time) error {
	vals, err := a.counters.MGet(ctx, keyRequestsTotal, keyRequestsBlocked, keyRequestsCached)
	if err != nil {
		return err
	}
	total, blocked, cached := parseCount(vals[0]), parseCount(vals[1]), parseCount(vals[2])

	raw, err := a.counters.LRange(ctx, keyLatencyList, 0, -1)
	if err != nil {
		return err
	}
	samples := make([]int64, 0, len(raw))
	for _, r := range raw {
		samples = append(samples, parseCount(r))
	}
	latency := SummarizeLatency(samples)

	// Nothing counted since the last clear: leave the existing snapshot
	// alone instead of zeroing it.
	if total == 0 {
		return nil
	}

	return a.db.UpsertRequestDay(ctx, storage.RequestRollup{
		Day:      now,
		Total:    total,
		Filtered: total - blocked,
		Blocked:  blocked,
		Cached:   cached,
		AvgMs:    latency.Avg,
		P95Ms:    latency.P95,
	})
}

func (a *Aggregator) aggregateFlags(ctx context.Context, now time.Time) error {
	return a.aggregatePrefix(ctx, flagKeyPrefix, func(suffix string, count int64) error {
		return a.db.UpsertFlagDay(ctx, now, suffix, count)
	})
}

func (a *Aggregator) aggregateUsers(ctx context.Context, now time.Time) error {
	return a.aggregatePrefix(ctx, userKeyPrefix, func(suffix string, count int64) error {
		return a.db.UpsertUserDay(ctx, now, suffix, count)
	})
}

// aggregatePrefix snapshots every counter under a prefix through upsert.
func (a *Aggregator) aggregatePrefix(ctx context.Context, prefix string, upsert func(suffix string, count int64) error) error {
	keys, err := a.counters.Scan(ctx, prefix+"*")
	if err != nil {
		return err
	}
	var firstErr error
	for _, key := range keys {
		val, found, err := a.counters.Get(ctx, key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !found {
			continue
		}
		count := parseCount(val)
		if count == 0 {
			continue
		}
		if err := upsert(strings.TrimPrefix(key, prefix), count); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Aggregator) aggregateAPI(ctx context.Context, now time.Time) error {
	keys, err := a.counters.Scan(ctx, apiKeyPrefix+"*")
	if err != nil {
		return err
	}
	var firstErr error
	for _, key := range keys {
		fields, err := a.counters.HGetAll(ctx, key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		calls := parseCount(fields[fieldCalls])
		if calls == 0 {
			continue
		}
		apiType := strings.TrimPrefix(key, apiKeyPrefix)
		err = a.db.UpsertAPIPerformance(ctx, now, apiType, calls,
			parseCount(fields[fieldErrors]), parseCount(fields[fieldTotalTime]))
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// clearCounters resets everything the run snapshotted to zero rather than
// deleting it, so queries keep seeing the keys. Per-flag and per-caller
// counters are reset with the clear-cycle TTL so keys whose callers have
// gone quiet eventually lapse instead of accumulating forever.
func (a *Aggregator) clearCounters(ctx context.Context) {
	for _, key := range []string{keyRequestsTotal, keyRequestsBlocked, keyRequestsCached} {
		if err := a.counters.Set(ctx, key, "0", 0); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("counter reset failed")
		}
	}

	apiKeys, err := a.counters.Scan(ctx, apiKeyPrefix+"*")
	if err != nil {
		log.Warn().Err(err).Msg("api counter cleanup scan failed")
	}
	for _, key := range apiKeys {
		if err := a.counters.HSet(ctx, key, fieldCalls, 0, fieldErrors, 0, fieldTotalTime, 0); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("api counter reset failed")
		}
	}

	for _, prefix := range []string{flagKeyPrefix, userKeyPrefix} {
		keys, err := a.counters.Scan(ctx, prefix+"*")
		if err != nil {
			log.Warn().Err(err).Str("prefix", prefix).Msg("counter cleanup scan failed")
			continue
		}
		for _, key := range keys {
			if err := a.counters.Set(ctx, key, "0", clearedKeyTTL); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("counter reset failed")
			}
		}
	}
}

// trimLatency keeps the newest retention samples for live queries.
func (a *Aggregator) trimLatency(ctx context.Context) {
	if err := a.counters.LTrim(ctx, keyLatencyList, 0, int64(a.cfg.LatencyRetention)-1); err != nil {
		log.Warn().Err(err).Msg("latency trim failed")
	}
}

func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
