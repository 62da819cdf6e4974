// Credential persistence.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no matching credential row exists.
var ErrNotFound = errors.New("credential not found")

// Credential is one API key row. One active credential per client IP.
type Credential struct {
	APIKey     string
	UserID     string
	ClientIP   string
	CreatedAt  time.Time
	LastUsedAt sql.NullTime
	Revoked    bool
}

// InsertCredential stores a new credential. A unique violation on client_ip
// means another request created one concurrently; callers should re-read by
// IP on error.
func (s *Store) InsertCredential(ctx context.Context, c Credential) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (api_key, user_id, client_ip, created_at)
		 VALUES ($1, $2, $3, now())`,
		c.APIKey, c.UserID, c.ClientIP)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// CredentialByKey loads an active credential by API key.
func (s *Store) CredentialByKey(ctx context.Context, apiKey string) (*Credential, error) {
	return s.credentialWhere(ctx,
		`SELECT api_key, user_id, client_ip, created_at, last_used_at, revoked
		 FROM credentials WHERE api_key = $1 AND NOT revoked`, apiKey)
}

// CredentialByIP loads the active credential for a client IP.
func (s *Store) CredentialByIP(ctx context.Context, clientIP string) (*Credential, error) {
	return s.credentialWhere(ctx,
		`SELECT api_key, user_id, client_ip, created_at, last_used_at, revoked
		 FROM credentials WHERE client_ip = $1 AND NOT revoked`, clientIP)
}

func (s *Store) credentialWhere(ctx context.Context, query, arg string) (*Credential, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var c Credential
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&c.APIKey, &c.UserID, &c.ClientIP, &c.CreatedAt, &c.LastUsedAt, &c.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return &c, nil
}

// RevokeCredential marks a key revoked. Revoked rows stay for audit; the
// IP may then mint a fresh key.
func (s *Store) RevokeCredential(ctx context.Context, apiKey string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET revoked = TRUE WHERE api_key = $1 AND NOT revoked`, apiKey)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchCredential records key usage. Failures are the caller's to ignore:
// last_used_at is advisory.
func (s *Store) TouchCredential(ctx context.Context, apiKey string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET last_used_at = now() WHERE api_key = $1`, apiKey)
	return err
}
