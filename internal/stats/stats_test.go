package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modguard/filter-gateway/internal/config"
	"github.com/modguard/filter-gateway/internal/storage"
	"github.com/modguard/filter-gateway/internal/store"
)

func testCounters(t *testing.T) (store.CounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	val, err := mr.Get(key)
	require.NoError(t, err)
	return val
}

// TestTracker_RecordRequest verifies the counter key layout.
func TestTracker_RecordRequest(t *testing.T) {
	counters, mr := testCounters(t)
	tr := NewTracker(counters, nil)
	ctx := context.Background()

	tr.RecordRequest(ctx, "user-1", false, false, nil, 40*time.Millisecond)
	tr.RecordRequest(ctx, "user-1", true, false, []string{"phone_number", "phone"}, 55*time.Millisecond)
	tr.RecordRequest(ctx, "user-2", false, true, nil, 2*time.Millisecond)

	assert.Equal(t, "3", mustGet(t, mr, keyRequestsTotal))
	assert.Equal(t, "1", mustGet(t, mr, keyRequestsBlocked))
	assert.Equal(t, "1", mustGet(t, mr, keyRequestsCached))
	assert.Equal(t, "2", mustGet(t, mr, userKeyPrefix+"user-1"))
	assert.Equal(t, "1", mustGet(t, mr, userKeyPrefix+"user-2"))
	assert.Equal(t, "1", mustGet(t, mr, flagKeyPrefix+"phone_number"))
	assert.Equal(t, "1", mustGet(t, mr, flagKeyPrefix+"phone"))

	samples, err := mr.List(keyLatencyList)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "55", "40"}, samples)
}

// TestTracker_FlagsOnlyWhenBlocked verifies allowed requests never count
// their advisory flags.
func TestTracker_FlagsOnlyWhenBlocked(t *testing.T) {
	counters, mr := testCounters(t)
	tr := NewTracker(counters, nil)

	tr.RecordRequest(context.Background(), "user-1", false, false, []string{"error"}, time.Millisecond)
	assert.False(t, mr.Exists(flagKeyPrefix+"error"))
}

// TestTracker_RecordAPICall verifies the per-type hash fields.
func TestTracker_RecordAPICall(t *testing.T) {
	counters, mr := testCounters(t)
	tr := NewTracker(counters, nil)
	ctx := context.Background()

	tr.RecordAPICall(ctx, "text", false, 120*time.Millisecond)
	tr.RecordAPICall(ctx, "text", true, 80*time.Millisecond)
	tr.RecordAPICall(ctx, "image", false, 300*time.Millisecond)

	assert.Equal(t, "2", mr.HGet(apiKeyPrefix+"text", fieldCalls))
	assert.Equal(t, "1", mr.HGet(apiKeyPrefix+"text", fieldErrors))
	assert.Equal(t, "200", mr.HGet(apiKeyPrefix+"text", fieldTotalTime))
	assert.Equal(t, "1", mr.HGet(apiKeyPrefix+"image", fieldCalls))
}

// TestTracker_SwallowsStoreErrors verifies the hot path survives a dead
// store.
func TestTracker_SwallowsStoreErrors(t *testing.T) {
	dead := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1,
	}))
	tr := NewTracker(dead, nil)

	assert.NotPanics(t, func() {
		tr.RecordRequest(context.Background(), "user-1", true, false, []string{"phone"}, time.Millisecond)
		tr.RecordAPICall(context.Background(), "text", false, time.Millisecond)
	})
}

// TestSummarizeLatency verifies the percentile index convention.
func TestSummarizeLatency(t *testing.T) {
	var samples []int64
	for i := int64(1); i <= 100; i++ {
		samples = append(samples, i)
	}

	s := SummarizeLatency(samples)
	assert.Equal(t, 100, s.Count)
	assert.InDelta(t, 50.5, s.Avg, 0.001)
	assert.Equal(t, int64(1), s.Min)
	assert.Equal(t, int64(100), s.Max)
	assert.Equal(t, int64(51), s.P50)
	assert.Equal(t, int64(96), s.P95)
	assert.Equal(t, int64(100), s.P99)

	assert.Equal(t, LatencySummary{}, SummarizeLatency(nil))

	one := SummarizeLatency([]int64{7})
	assert.Equal(t, int64(7), one.P99)
}

// TestAggregator_Run verifies counters drain into rollups and reset.
func TestAggregator_Run(t *testing.T) {
	counters, mr := testCounters(t)
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	tr := NewTracker(counters, nil)
	ctx := context.Background()
	tr.RecordRequest(ctx, "user-1", true, false, []string{"phone_number"}, 40*time.Millisecond)
	tr.RecordRequest(ctx, "user-1", false, true, nil, 10*time.Millisecond)
	tr.RecordAPICall(ctx, "text", false, 120*time.Millisecond)

	// Latency samples 40 and 10: avg 25, p95 = sorted[1] = 40.
	mock.ExpectExec("INSERT INTO request_stats_daily").
		WithArgs(sqlmock.AnyArg(), int64(2), int64(1), int64(1), int64(1), 25.0, int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO content_flags_daily").
		WithArgs(sqlmock.AnyArg(), "phone_number", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_activity_daily").
		WithArgs(sqlmock.AnyArg(), "user-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO api_performance_hourly").
		WithArgs(sqlmock.AnyArg(), "text", int64(1), int64(0), int64(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	agg := NewAggregator(counters, storage.NewFromDB(db), config.StatsConfig{LatencyRetention: 500})
	report, err := agg.Run(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.True(t, report.Cleared)
	for task, ok := range report.Tasks {
		assert.True(t, ok, "task %s", task)
	}
	assert.NoError(t, mock.ExpectationsWereMet())

	// Every counter resets to zero in place: scalars, scanned per-flag
	// and per-caller keys, and the hash fields.
	assert.Equal(t, "0", mustGet(t, mr, keyRequestsTotal))
	assert.Equal(t, "0", mustGet(t, mr, flagKeyPrefix+"phone_number"))
	assert.Equal(t, "0", mustGet(t, mr, userKeyPrefix+"user-1"))
	assert.Equal(t, "0", mr.HGet(apiKeyPrefix+"text", fieldCalls))
	assert.Greater(t, mr.TTL(flagKeyPrefix+"phone_number"), time.Duration(0))
}

// TestAggregator_KeepsCountersOnFailure verifies a failed sub-task leaves
// every counter for the next run.
func TestAggregator_KeepsCountersOnFailure(t *testing.T) {
	counters, mr := testCounters(t)
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	tr := NewTracker(counters, nil)
	ctx := context.Background()
	tr.RecordRequest(ctx, "user-1", true, false, []string{"phone_number"}, 40*time.Millisecond)

	mock.ExpectExec("INSERT INTO request_stats_daily").
		WillReturnError(fmt.Errorf("connection refused"))
	mock.ExpectExec("INSERT INTO content_flags_daily").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_activity_daily").
		WillReturnResult(sqlmock.NewResult(0, 1))

	agg := NewAggregator(counters, storage.NewFromDB(db), config.StatsConfig{LatencyRetention: 500})
	report, err := agg.Run(ctx, true)
	require.Error(t, err)
	assert.False(t, report.Success)
	assert.False(t, report.Cleared)
	assert.False(t, report.Tasks["requests"])
	assert.True(t, report.Tasks["flags"])

	assert.Equal(t, "1", mustGet(t, mr, keyRequestsTotal))
	assert.True(t, mr.Exists(flagKeyPrefix+"phone_number"))
	assert.True(t, mr.Exists(userKeyPrefix+"user-1"))
}

// TestAggregator_SingleFlight verifies overlapping runs are rejected.
func TestAggregator_SingleFlight(t *testing.T) {
	counters, _ := testCounters(t)
	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	agg := NewAggregator(counters, storage.NewFromDB(db), config.StatsConfig{LatencyRetention: 500})
	agg.inProgress.Store(true)
	_, err = agg.Run(context.Background(), false)
	assert.ErrorIs(t, err, ErrAggregationRunning)
	assert.True(t, agg.Running())
}

// TestAggregator_TrimsLatency verifies retention after a successful run.
func TestAggregator_TrimsLatency(t *testing.T) {
	counters, mr := testCounters(t)
	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, counters.LPush(ctx, keyLatencyList, "5"))
	}

	agg := NewAggregator(counters, storage.NewFromDB(db), config.StatsConfig{LatencyRetention: 10})
	_, err = agg.Run(ctx, true)
	require.NoError(t, err)

	samples, err := mr.List(keyLatencyList)
	require.NoError(t, err)
	assert.Len(t, samples, 10)
}

// TestQuery_Summary verifies the live view math.
func TestQuery_Summary(t *testing.T) {
	counters, _ := testCounters(t)
	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	tr := NewTracker(counters, nil)
	ctx := context.Background()
	tr.RecordRequest(ctx, "user-1", true, false, []string{"phone"}, 100*time.Millisecond)
	tr.RecordRequest(ctx, "user-1", false, true, nil, 20*time.Millisecond)
	tr.RecordRequest(ctx, "user-2", false, false, nil, 30*time.Millisecond)

	q := NewQuery(counters, storage.NewFromDB(db))
	s, err := q.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.InDelta(t, 1.0/3.0, s.BlockRate, 0.001)
	assert.InDelta(t, 1.0/3.0, s.CacheHitRate, 0.001)
	assert.Equal(t, 3, s.Latency.Count)
	assert.Equal(t, int64(100), s.Latency.Max)
}

// TestQuery_Timeseries verifies rollup rows map to response points.
func TestQuery_Timeseries(t *testing.T) {
	counters, _ := testCounters(t)
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"day", "total_count", "filtered_count", "blocked_count", "cached_count", "avg_response_ms", "p95_response_ms"}).
		AddRow(day, int64(120), int64(113), int64(7), int64(43), 35.5, int64(90))
	mock.ExpectQuery("SELECT day, total_count").WillReturnRows(rows)

	q := NewQuery(counters, storage.NewFromDB(db))
	points, err := q.Timeseries(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "2026-03-14", points[0].Day)
	assert.Equal(t, int64(120), points[0].Total)
	assert.Equal(t, int64(113), points[0].Filtered)
	assert.Equal(t, int64(90), points[0].P95Ms)
}

// TestQuery_APIMonitor verifies derived rates from the live hashes.
func TestQuery_APIMonitor(t *testing.T) {
	counters, _ := testCounters(t)
	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	tr := NewTracker(counters, nil)
	ctx := context.Background()
	tr.RecordAPICall(ctx, "text", false, 100*time.Millisecond)
	tr.RecordAPICall(ctx, "text", true, 300*time.Millisecond)

	q := NewQuery(counters, storage.NewFromDB(db))
	perf, err := q.APIMonitor(ctx)
	require.NoError(t, err)
	require.Contains(t, perf, "text")
	assert.Equal(t, int64(2), perf["text"].Calls)
	assert.InDelta(t, 0.5, perf["text"].ErrorRate, 0.001)
	assert.InDelta(t, 200.0, perf["text"].AvgTimeMs, 0.001)
}
