package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(db), mock
}

// TestEnsureSchema verifies every DDL statement runs once.
func TestEnsureSchema(t *testing.T) {
	s, mock := mockStore(t)
	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertRequestDay verifies day truncation and the snapshot overwrite:
// running twice with the same values issues the identical statement, which
// is what makes the aggregator re-runnable.
func TestUpsertRequestDay(t *testing.T) {
	s, mock := mockStore(t)
	rollup := RequestRollup{
		Day:   time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC),
		Total: 10, Filtered: 7, Blocked: 3, Cached: 2,
		AvgMs: 42.5, P95Ms: 120,
	}
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO request_stats_daily").
			WithArgs(day, int64(10), int64(7), int64(3), int64(2), 42.5, int64(120)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, s.UpsertRequestDay(context.Background(), rollup))
	require.NoError(t, s.UpsertRequestDay(context.Background(), rollup))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertAPIPerformance verifies the hourly bucket key.
func TestUpsertAPIPerformance(t *testing.T) {
	s, mock := mockStore(t)
	hour := time.Date(2026, 3, 14, 17, 45, 12, 0, time.UTC)

	mock.ExpectExec("INSERT INTO api_performance_hourly").
		WithArgs(time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC), "text", int64(50), int64(2), int64(9400)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpsertAPIPerformance(context.Background(), hour, "text", 50, 2, 9400))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUpsertFlagDay verifies the per-flag rollup write.
func TestUpsertFlagDay(t *testing.T) {
	s, mock := mockStore(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO content_flags_daily").
		WithArgs(day, "phone_number", int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpsertFlagDay(context.Background(), day, "phone_number", 12))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRequestSeries verifies row mapping and ordering pass-through.
func TestRequestSeries(t *testing.T) {
	s, mock := mockStore(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"day", "total_count", "filtered_count", "blocked_count", "cached_count", "avg_response_ms", "p95_response_ms"}).
		AddRow(from, int64(10), int64(9), int64(1), int64(4), 12.5, int64(40)).
		AddRow(from.AddDate(0, 0, 1), int64(20), int64(17), int64(3), int64(9), 15.0, int64(55))
	mock.ExpectQuery("SELECT day, total_count").
		WithArgs(from, to).
		WillReturnRows(rows)

	series, err := s.RequestSeries(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, int64(10), series[0].Total)
	assert.Equal(t, int64(3), series[1].Blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestTopFlags verifies the grouped query and limit argument.
func TestTopFlags(t *testing.T) {
	s, mock := mockStore(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"flag", "total"}).
		AddRow("phone_number", int64(40)).
		AddRow("email_address", int64(12))
	mock.ExpectQuery("SELECT flag, SUM").
		WithArgs(from, to, 10).
		WillReturnRows(rows)

	flags, err := s.TopFlags(context.Background(), from, to, 10)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, "phone_number", flags[0].Flag)
	assert.Equal(t, int64(40), flags[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCredentialByKey verifies row mapping and the not-found sentinel.
func TestCredentialByKey(t *testing.T) {
	s, mock := mockStore(t)

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"api_key", "user_id", "client_ip", "created_at", "last_used_at", "revoked"}).
		AddRow("abc123", "user-1", "203.0.113.9", created, nil, false)
	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs("abc123").
		WillReturnRows(rows)

	c, err := s.CredentialByKey(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.UserID)
	assert.Equal(t, "203.0.113.9", c.ClientIP)
	assert.False(t, c.LastUsedAt.Valid)

	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = s.CredentialByKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRevokeCredential verifies affected-row mapping to the sentinel.
func TestRevokeCredential(t *testing.T) {
	s, mock := mockStore(t)

	mock.ExpectExec("UPDATE credentials SET revoked").
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.RevokeCredential(context.Background(), "abc123"))

	mock.ExpectExec("UPDATE credentials SET revoked").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.RevokeCredential(context.Background(), "gone"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
