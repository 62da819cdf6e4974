// Package storage is the durable Postgres layer beneath the Redis hot path.
//
// DESIGN: Rollup tables receive snapshot upserts from the aggregation
// worker and are the only source for historical queries; live counters stay
// in Redis. Each upsert overwrites the row for the current bucket with the
// absolute counter values read from Redis, so re-running the aggregator in
// the same window converges to the latest snapshot instead of
// double-counting.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultTimeout = 10 * time.Second

// Store wraps the Postgres connection pool.
type Store struct {
	db *sql.DB
}

// New opens a pool against dsn and verifies connectivity.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle. Used by tests with sqlmock.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// bound adds the default timeout when the caller didn't set a deadline.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultTimeout)
}

// RequestRollup is one daily request snapshot. Filtered is derived as
// total minus blocked before the write; the table stores it explicitly so
// queries never recompute it.
type RequestRollup struct {
	Day      time.Time
	Total    int64
	Filtered int64
	Blocked  int64
	Cached   int64
	AvgMs    float64
	P95Ms    int64
}

// FlagCount is one flag rollup row.
type FlagCount struct {
	Flag  string
	Count int64
}

// UserDay is one per-caller daily activity row.
type UserDay struct {
	Day      time.Time
	Requests int64
	Blocked  int64
}

// UpsertRequestDay overwrites the daily request snapshot.
func (s *Store) UpsertRequestDay(ctx context.Context, r RequestRollup) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_stats_daily
		   (day, total_count, filtered_count, blocked_count, cached_count, avg_response_ms, p95_response_ms, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (day) DO UPDATE SET
		   total_count = EXCLUDED.total_count,
		   filtered_count = EXCLUDED.filtered_count,
		   blocked_count = EXCLUDED.blocked_count,
		   cached_count = EXCLUDED.cached_count,
		   avg_response_ms = EXCLUDED.avg_response_ms,
		   p95_response_ms = EXCLUDED.p95_response_ms,
		   updated_at = now()`,
		r.Day.UTC().Truncate(24*time.Hour), r.Total, r.Filtered, r.Blocked, r.Cached, r.AvgMs, r.P95Ms)
	if err != nil {
		return fmt.Errorf("upsert request_stats_daily: %w", err)
	}
	return nil
}

// UpsertAPIPerformance overwrites the hourly snapshot for one API type.
func (s *Store) UpsertAPIPerformance(ctx context.Context, hour time.Time, apiType string, calls, errors, totalTimeMs int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_performance_hourly (hour, api_type, call_count, error_count, total_time_ms, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (hour, api_type) DO UPDATE SET
		   call_count = EXCLUDED.call_count,
		   error_count = EXCLUDED.error_count,
		   total_time_ms = EXCLUDED.total_time_ms,
		   updated_at = now()`,
		hour.UTC().Truncate(time.Hour), apiType, calls, errors, totalTimeMs)
	if err != nil {
		return fmt.Errorf("upsert api_performance_hourly: %w", err)
	}
	return nil
}

// UpsertFlagDay overwrites the daily snapshot for one flag.
func (s *Store) UpsertFlagDay(ctx context.Context, day time.Time, flag string, count int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_flags_daily (day, flag, flag_count, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (day, flag) DO UPDATE SET
		   flag_count = EXCLUDED.flag_count,
		   updated_at = now()`,
		day.UTC().Truncate(24*time.Hour), flag, count)
	if err != nil {
		return fmt.Errorf("upsert content_flags_daily: %w", err)
	}
	return nil
}

// UpsertUserDay overwrites one caller's daily snapshot. Per-caller blocked
// counts are not tracked in Redis, so blocked_count stays at its default.
func (s *Store) UpsertUserDay(ctx context.Context, day time.Time, userID string, requests int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_activity_daily (day, user_id, request_count, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (day, user_id) DO UPDATE SET
		   request_count = EXCLUDED.request_count,
		   updated_at = now()`,
		day.UTC().Truncate(24*time.Hour), userID, requests)
	if err != nil {
		return fmt.Errorf("upsert user_activity_daily: %w", err)
	}
	return nil
}

// RequestSeries returns daily request rollups in [from, to], oldest first.
func (s *Store) RequestSeries(ctx context.Context, from, to time.Time) ([]RequestRollup, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, total_count, filtered_count, blocked_count, cached_count, avg_response_ms, p95_response_ms
		 FROM request_stats_daily
		 WHERE day BETWEEN $1 AND $2
		 ORDER BY day`,
		from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query request_stats_daily: %w", err)
	}
	defer rows.Close()

	var out []RequestRollup
	for rows.Next() {
		var d RequestRollup
		if err := rows.Scan(&d.Day, &d.Total, &d.Filtered, &d.Blocked, &d.Cached, &d.AvgMs, &d.P95Ms); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TopFlags returns the most frequent flags in [from, to], highest first.
func (s *Store) TopFlags(ctx context.Context, from, to time.Time, limit int) ([]FlagCount, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT flag, SUM(flag_count) AS total
		 FROM content_flags_daily
		 WHERE day BETWEEN $1 AND $2
		 GROUP BY flag
		 ORDER BY total DESC
		 LIMIT $3`,
		from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour), limit)
	if err != nil {
		return nil, fmt.Errorf("query content_flags_daily: %w", err)
	}
	defer rows.Close()

	var out []FlagCount
	for rows.Next() {
		var f FlagCount
		if err := rows.Scan(&f.Flag, &f.Count); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UserSeries returns one caller's daily activity for the trailing window,
// oldest first.
func (s *Store) UserSeries(ctx context.Context, userID string, days int) ([]UserDay, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, request_count, blocked_count
		 FROM user_activity_daily
		 WHERE user_id = $1 AND day >= $2
		 ORDER BY day`,
		userID, time.Now().UTC().AddDate(0, 0, -days).Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query user_activity_daily: %w", err)
	}
	defer rows.Close()

	var out []UserDay
	for rows.Next() {
		var d UserDay
		if err := rows.Scan(&d.Day, &d.Requests, &d.Blocked); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
