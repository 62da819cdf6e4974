// Rollup and credential schema.
package storage

import "context"

// Schema DDL, applied idempotently at startup. Rollup tables hold aggregated
// counters only; raw request content never reaches Postgres.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS request_stats_daily (
		day DATE PRIMARY KEY,
		total_count BIGINT NOT NULL DEFAULT 0,
		filtered_count BIGINT NOT NULL DEFAULT 0,
		blocked_count BIGINT NOT NULL DEFAULT 0,
		cached_count BIGINT NOT NULL DEFAULT 0,
		avg_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		p95_response_ms BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS api_performance_hourly (
		hour TIMESTAMPTZ NOT NULL,
		api_type TEXT NOT NULL,
		call_count BIGINT NOT NULL DEFAULT 0,
		error_count BIGINT NOT NULL DEFAULT 0,
		total_time_ms BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (hour, api_type)
	)`,
	`CREATE TABLE IF NOT EXISTS content_flags_daily (
		day DATE NOT NULL,
		flag TEXT NOT NULL,
		flag_count BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (day, flag)
	)`,
	`CREATE TABLE IF NOT EXISTS user_activity_daily (
		day DATE NOT NULL,
		user_id TEXT NOT NULL,
		request_count BIGINT NOT NULL DEFAULT 0,
		blocked_count BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (day, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		api_key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		client_ip TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at TIMESTAMPTZ,
		revoked BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_activity_user ON user_activity_daily(user_id)`,
	// One ACTIVE credential per IP; revoked rows stay for audit.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_active_ip ON credentials(client_ip) WHERE NOT revoked`,
}

// EnsureSchema applies the DDL. Every statement is IF NOT EXISTS, so
// repeated startup is harmless.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
