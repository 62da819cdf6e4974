package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modguard/filter-gateway/internal/cache"
	"github.com/modguard/filter-gateway/internal/storage"
	"github.com/modguard/filter-gateway/internal/store"
)

func testService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	counters := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	local := cache.New(cache.Options{Name: "credential", MaxEntries: 64, DefaultTTL: localTTL})
	t.Cleanup(local.Destroy)

	return NewService(storage.NewFromDB(db), counters, local), mock
}

const testKey = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func credentialRows(key, userID, ip string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"api_key", "user_id", "client_ip", "created_at", "last_used_at", "revoked"}).
		AddRow(key, userID, ip, time.Now().UTC(), nil, false)
}

// TestDeriveUserID verifies the identity derivation is stable and short.
func TestDeriveUserID(t *testing.T) {
	id := DeriveUserID(testKey)
	assert.Len(t, id, 16)
	assert.Equal(t, id, DeriveUserID(testKey))
	assert.NotEqual(t, id, DeriveUserID(strings.Replace(testKey, "a", "b", 1)))
}

// TestValidate_KeyShape verifies malformed keys are rejected without any
// backend traffic.
func TestValidate_KeyShape(t *testing.T) {
	s, mock := testService(t)
	for _, key := range []string{"", "short", strings.ToUpper(testKey), testKey + "ff"} {
		_, err := s.Validate(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestValidate_CacheLayers verifies Postgres is queried once, later lookups
// are served from the caches, and every successful validation refreshes
// last_used_at regardless of which layer answered.
func TestValidate_CacheLayers(t *testing.T) {
	s, mock := testService(t)
	userID := DeriveUserID(testKey)

	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs(testKey).
		WillReturnRows(credentialRows(testKey, userID, "203.0.113.9"))
	mock.ExpectExec("UPDATE credentials SET last_used_at").
		WithArgs(testKey).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.Validate(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	// Local cache hit: no query, but the touch still lands.
	mock.ExpectExec("UPDATE credentials SET last_used_at").
		WithArgs(testKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	got, err = s.Validate(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	// Redis hit after the local layer is gone: same deal.
	s.local.Clear()
	mock.ExpectExec("UPDATE credentials SET last_used_at").
		WithArgs(testKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	got, err = s.Validate(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestValidate_UnknownKey verifies the negative result is cached so a bad
// key cannot hammer Postgres.
func TestValidate_UnknownKey(t *testing.T) {
	s, mock := testService(t)

	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs(testKey).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Validate(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Validate(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGetOrCreate_Mint verifies first contact mints a well-formed key with
// a derived identity.
func TestGetOrCreate_Mint(t *testing.T) {
	s, mock := testService(t)

	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs("203.0.113.9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credentials").
		WillReturnResult(sqlmock.NewResult(0, 1))

	cred, err := s.GetOrCreate(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{64}$", cred.APIKey)
	assert.Equal(t, DeriveUserID(cred.APIKey), cred.UserID)

	// Second contact from the same IP is served from the caches; the
	// validation inside the lookup still refreshes last_used_at.
	mock.ExpectExec("UPDATE credentials SET last_used_at").
		WithArgs(cred.APIKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	again, err := s.GetOrCreate(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, cred.APIKey, again.APIKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGetOrCreate_RaceLoser verifies the unique-index loser returns the
// winner's credential instead of an error.
func TestGetOrCreate_RaceLoser(t *testing.T) {
	s, mock := testService(t)
	winnerKey := strings.Repeat("b", 64)

	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs("198.51.100.7").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credentials").
		WillReturnError(fmt.Errorf("duplicate key value violates unique constraint"))
	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs("198.51.100.7").
		WillReturnRows(credentialRows(winnerKey, DeriveUserID(winnerKey), "198.51.100.7"))

	cred, err := s.GetOrCreate(context.Background(), "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, winnerKey, cred.APIKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRevoke verifies revocation clears every layer immediately.
func TestRevoke(t *testing.T) {
	s, mock := testService(t)
	userID := DeriveUserID(testKey)

	mock.ExpectQuery("SELECT api_key, user_id").
		WithArgs(testKey).
		WillReturnRows(credentialRows(testKey, userID, "203.0.113.9"))
	mock.ExpectExec("UPDATE credentials SET last_used_at").
		WithArgs(testKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	_, err := s.Validate(context.Background(), testKey)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE credentials SET revoked").
		WithArgs(testKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Revoke(context.Background(), testKey))

	_, err = s.Validate(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestRevoke_Unknown verifies revoking a nonexistent key maps to the
// sentinel error.
func TestRevoke_Unknown(t *testing.T) {
	s, mock := testService(t)

	mock.ExpectExec("UPDATE credentials SET revoked").
		WithArgs(testKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Revoke(context.Background(), testKey), ErrInvalidKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}
