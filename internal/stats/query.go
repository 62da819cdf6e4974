// Read-side stats queries.
package stats

import (
	"context"
	"time"

	"github.com/modguard/filter-gateway/internal/storage"
	"github.com/modguard/filter-gateway/internal/store"
)

// Summary is the live view of the current aggregation window.
type Summary struct {
	TotalRequests   int64          `json:"totalRequests"`
	BlockedRequests int64          `json:"blockedRequests"`
	CachedRequests  int64          `json:"cachedRequests"`
	BlockRate       float64        `json:"blockRate"`
	CacheHitRate    float64        `json:"cacheHitRate"`
	Latency         LatencySummary `json:"latency"`
}

// APIPerformance is the live per-type view of upstream AI calls.
type APIPerformance struct {
	Calls     int64   `json:"calls"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"errorRate"`
	AvgTimeMs float64 `json:"avgTimeMs"`
}

// TimeseriesPoint is one day of historical rollups.
type TimeseriesPoint struct {
	Day      string  `json:"day"`
	Total    int64   `json:"total"`
	Filtered int64   `json:"filtered"`
	Blocked  int64   `json:"blocked"`
	Cached   int64   `json:"cached"`
	AvgMs    float64 `json:"avgResponseMs"`
	P95Ms    int64   `json:"p95ResponseMs"`
}

// UserActivity is one caller's history plus the live window.
type UserActivity struct {
	UserID     string              `json:"userId"`
	LiveWindow int64               `json:"liveWindowRequests"`
	Days       []UserActivityPoint `json:"days"`
}

// UserActivityPoint is one day of one caller's rollups.
type UserActivityPoint struct {
	Day      string `json:"day"`
	Requests int64  `json:"requests"`
	Blocked  int64  `json:"blocked"`
}

// Query serves the stats read endpoints.
type Query struct {
	counters store.CounterStore
	db       *storage.Store
}

// NewQuery builds the read side.
func NewQuery(counters store.CounterStore, db *storage.Store) *Query {
	return &Query{counters: counters, db: db}
}

// Summary reads the live counters and latency samples.
func (q *Query) Summary(ctx context.Context) (*Summary, error) {
	vals, err := q.counters.MGet(ctx, keyRequestsTotal, keyRequestsBlocked, keyRequestsCached)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		TotalRequests:   parseCount(vals[0]),
		BlockedRequests: parseCount(vals[1]),
		CachedRequests:  parseCount(vals[2]),
	}
	if s.TotalRequests > 0 {
		s.BlockRate = float64(s.BlockedRequests) / float64(s.TotalRequests)
		s.CacheHitRate = float64(s.CachedRequests) / float64(s.TotalRequests)
	}

	raw, err := q.counters.LRange(ctx, keyLatencyList, 0, -1)
	if err != nil {
		return nil, err
	}
	samples := make([]int64, 0, len(raw))
	for _, r := range raw {
		samples = append(samples, parseCount(r))
	}
	s.Latency = SummarizeLatency(samples)
	return s, nil
}

// Timeseries returns the daily request rollups for the trailing window.
func (q *Query) Timeseries(ctx context.Context, days int) ([]TimeseriesPoint, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	series, err := q.db.RequestSeries(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]TimeseriesPoint, 0, len(series))
	for _, d := range series {
		out = append(out, TimeseriesPoint{
			Day:      d.Day.Format("2006-01-02"),
			Total:    d.Total,
			Filtered: d.Filtered,
			Blocked:  d.Blocked,
			Cached:   d.Cached,
			AvgMs:    d.AvgMs,
			P95Ms:    d.P95Ms,
		})
	}
	return out, nil
}

// TopFlags returns the most frequent violation flags over the trailing
// window.
func (q *Query) TopFlags(ctx context.Context, days, limit int) ([]storage.FlagCount, error) {
	to := time.Now().UTC()
	return q.db.TopFlags(ctx, to.AddDate(0, 0, -days), to, limit)
}

// UserActivity combines a caller's rollup history with the live window
// counter.
func (q *Query) UserActivity(ctx context.Context, userID string, days int) (*UserActivity, error) {
	series, err := q.db.UserSeries(ctx, userID, days)
	if err != nil {
		return nil, err
	}
	out := &UserActivity{UserID: userID, Days: make([]UserActivityPoint, 0, len(series))}
	for _, d := range series {
		out.Days = append(out.Days, UserActivityPoint{
			Day:      d.Day.Format("2006-01-02"),
			Requests: d.Requests,
			Blocked:  d.Blocked,
		})
	}

	if val, ok, err := q.counters.Get(ctx, userKeyPrefix+userID); err == nil && ok {
		out.LiveWindow = parseCount(val)
	}
	return out, nil
}

// APIMonitor reads the live per-type API call hashes.
func (q *Query) APIMonitor(ctx context.Context) (map[string]APIPerformance, error) {
	keys, err := q.counters.Scan(ctx, apiKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	out := make(map[string]APIPerformance, len(keys))
	for _, key := range keys {
		fields, err := q.counters.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		p := APIPerformance{
			Calls:  parseCount(fields[fieldCalls]),
			Errors: parseCount(fields[fieldErrors]),
		}
		if p.Calls > 0 {
			p.ErrorRate = float64(p.Errors) / float64(p.Calls)
			p.AvgTimeMs = float64(parseCount(fields[fieldTotalTime])) / float64(p.Calls)
		}
		out[key[len(apiKeyPrefix):]] = p
	}
	return out, nil
}
