// Package auth issues and validates API credentials.
//
// DESIGN: One active credential per client IP, minted on first contact.
// Keys are 32 random bytes hex-encoded; the caller identity (userID) is
// derived from the key by hashing, so the stats pipeline never needs the
// key itself. Validation is read-heavy and sits on every request, so it
// goes through two cache layers before Postgres: a small in-process cache
// with a short TTL, then Redis shared across instances with a longer TTL.
// Revocation deletes both layers, bounding the stale-allow window to the
// in-process TTL on other instances.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modguard/filter-gateway/internal/cache"
	"github.com/modguard/filter-gateway/internal/storage"
	"github.com/modguard/filter-gateway/internal/store"
)

const (
	localTTL = 2 * time.Minute
	redisTTL = 30 * time.Minute

	redisKeyPrefix = "auth:key:"
	redisIPPrefix  = "auth:ip:"

	// revokedMarker distinguishes "known revoked" from a cache miss so a
	// revoked key doesn't hammer Postgres.
	revokedMarker = "!revoked"
)

// ErrInvalidKey is returned for unknown, malformed or revoked keys.
var ErrInvalidKey = errors.New("invalid api key")

var keyShape = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Credential is the caller-visible part of a minted key.
type Credential struct {
	APIKey    string    `json:"apiKey"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service wires the credential store and both cache layers.
type Service struct {
	db       *storage.Store
	counters store.CounterStore
	local    *cache.Cache
}

// NewService builds the auth service. The local cache is deliberately
// small: entries are tiny and the TTL is short.
func NewService(db *storage.Store, counters store.CounterStore, local *cache.Cache) *Service {
	return &Service{db: db, counters: counters, local: local}
}

// GetOrCreate returns the active credential for an IP, minting one on first
// contact. Concurrent first contacts race on the unique index; the loser
// re-reads the winner's row.
func (s *Service) GetOrCreate(ctx context.Context, clientIP string) (*Credential, error) {
	if clientIP == "" {
		return nil, fmt.Errorf("client ip required")
	}

	if existing, err := s.lookupByIP(ctx, clientIP); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	cred := storage.Credential{
		APIKey:   key,
		UserID:   DeriveUserID(key),
		ClientIP: clientIP,
	}
	if err := s.db.InsertCredential(ctx, cred); err != nil {
		// Unique-index loser: someone minted for this IP first.
		if existing, lookupErr := s.lookupByIP(ctx, clientIP); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}

	s.cacheKey(ctx, key, cred.UserID)
	s.cacheIP(ctx, clientIP, key)
	log.Info().Str("userId", cred.UserID).Msg("minted api credential")
	return &Credential{APIKey: key, UserID: cred.UserID, CreatedAt: time.Now().UTC()}, nil
}

// Validate resolves an API key to its userID, or ErrInvalidKey. The hot
// path: local cache, then Redis, then Postgres with write-back. Every
// successful validation refreshes last_used_at, whichever layer answered.
func (s *Service) Validate(ctx context.Context, apiKey string) (string, error) {
	if !keyShape.MatchString(apiKey) {
		return "", ErrInvalidKey
	}

	if payload, ok := s.local.Get(localKey(apiKey)); ok {
		if string(payload) == revokedMarker {
			return "", ErrInvalidKey
		}
		s.touch(ctx, apiKey)
		return string(payload), nil
	}

	if val, ok, err := s.counters.Get(ctx, redisKeyPrefix+apiKey); err == nil && ok {
		if val == revokedMarker {
			s.local.Set(localKey(apiKey), []byte(revokedMarker), localTTL)
			return "", ErrInvalidKey
		}
		s.local.Set(localKey(apiKey), []byte(val), localTTL)
		s.touch(ctx, apiKey)
		return val, nil
	}

	cred, err := s.db.CredentialByKey(ctx, apiKey)
	if errors.Is(err, storage.ErrNotFound) {
		s.cacheRevoked(ctx, apiKey)
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", err
	}

	s.cacheKey(ctx, apiKey, cred.UserID)
	s.touch(ctx, apiKey)
	return cred.UserID, nil
}

// touch is best-effort: last_used_at is bookkeeping, never a reason to
// fail a validation.
func (s *Service) touch(ctx context.Context, apiKey string) {
	if err := s.db.TouchCredential(ctx, apiKey); err != nil {
		log.Debug().Err(err).Msg("credential touch failed")
	}
}

// Revoke invalidates a key everywhere. Postgres is authoritative; the cache
// layers are cleared after so no layer can resurrect the key.
func (s *Service) Revoke(ctx context.Context, apiKey string) error {
	if !keyShape.MatchString(apiKey) {
		return ErrInvalidKey
	}
	err := s.db.RevokeCredential(ctx, apiKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrInvalidKey
	}
	if err != nil {
		return err
	}

	s.local.Delete(localKey(apiKey))
	if delErr := s.counters.Del(ctx, redisKeyPrefix+apiKey); delErr != nil {
		log.Warn().Err(delErr).Msg("failed to clear revoked key from redis")
	}
	s.cacheRevoked(ctx, apiKey)
	log.Info().Msg("revoked api credential")
	return nil
}

// DeriveUserID maps a key to its stable caller identity: the first 16 hex
// characters of SHA-256 over the key.
func DeriveUserID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Service) lookupByIP(ctx context.Context, clientIP string) (*Credential, error) {
	if val, ok, err := s.counters.Get(ctx, redisIPPrefix+clientIP); err == nil && ok {
		if userID, vErr := s.Validate(ctx, val); vErr == nil {
			return &Credential{APIKey: val, UserID: userID}, nil
		}
	}

	cred, err := s.db.CredentialByIP(ctx, clientIP)
	if err != nil {
		return nil, err
	}
	s.cacheKey(ctx, cred.APIKey, cred.UserID)
	s.cacheIP(ctx, clientIP, cred.APIKey)
	return &Credential{APIKey: cred.APIKey, UserID: cred.UserID, CreatedAt: cred.CreatedAt}, nil
}

func (s *Service) cacheKey(ctx context.Context, apiKey, userID string) {
	s.local.Set(localKey(apiKey), []byte(userID), localTTL)
	if err := s.counters.Set(ctx, redisKeyPrefix+apiKey, userID, redisTTL); err != nil {
		log.Debug().Err(err).Msg("redis credential cache write failed")
	}
}

func (s *Service) cacheIP(ctx context.Context, clientIP, apiKey string) {
	if err := s.counters.Set(ctx, redisIPPrefix+clientIP, apiKey, redisTTL); err != nil {
		log.Debug().Err(err).Msg("redis ip cache write failed")
	}
}

func (s *Service) cacheRevoked(ctx context.Context, apiKey string) {
	s.local.Set(localKey(apiKey), []byte(revokedMarker), localTTL)
	if err := s.counters.Set(ctx, redisKeyPrefix+apiKey, revokedMarker, localTTL); err != nil {
		log.Debug().Err(err).Msg("redis revoked marker write failed")
	}
}

func localKey(apiKey string) string { return "key:" + apiKey }

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
