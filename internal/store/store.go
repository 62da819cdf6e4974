// Package store provides the distributed counter store used for
// cross-process counters, latency samples and the shared credential cache.
//
// DESIGN: A thin contract over a key/value store with atomic primitives
// (INCR, HINCRBY, LPUSH+LTRIM, SET) — no read-modify-write cycles. The
// tracker and rate limiter call these on the hot path; the aggregator
// reads absolute counter values, so increments never need global ordering.
//
// RedisStore is the production implementation. Tests run against
// miniredis, so the contract stays honest without a live server.
package store

import (
	"context"
	"time"
)

// CounterStore is the minimal surface the gateway needs from the
// distributed store.
type CounterStore interface {
	// Incr atomically increments key by 1 and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// IncrBy atomically increments key by n and returns the new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)

	// HIncrBy atomically increments a hash field and returns the new value.
	HIncrBy(ctx context.Context, key, field string, n int64) (int64, error)

	// HGetAll returns all fields of a hash. Missing keys yield an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HSet sets hash fields from alternating field/value pairs.
	HSet(ctx context.Context, key string, pairs ...any) error

	// Get returns the string value at key; ok=false when absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// MGet returns values for keys; absent keys yield empty strings.
	MGet(ctx context.Context, keys ...string) ([]string, error)

	// Set stores value at key with an optional TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// LPush pushes values to the head of a list.
	LPush(ctx context.Context, key string, values ...any) error

	// LTrim keeps only the elements in [start, stop].
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange returns the elements in [start, stop].
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Scan returns all keys matching pattern. Used only by the aggregator
	// (per-caller counter enumeration), never on the request path.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}

// WaitReady polls Ping until the store answers or the timeout elapses.
// Returns false on timeout; callers decide whether to proceed anyway.
// This closes the startup race between the server and the store: the
// aggregator must not read counters before the store reports ready.
func WaitReady(ctx context.Context, s CounterStore, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		pctx, cancel := context.WithTimeout(ctx, time.Second)
		err := s.Ping(pctx)
		cancel()
		if err == nil {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}
