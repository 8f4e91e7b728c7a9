// Package pg is the postgres identity store. Links live in one table keyed
// by (provider, provider_user_id); the unique constraint plus
// ON CONFLICT DO NOTHING gives the atomic insert-if-absent that keeps
// concurrent first logins from minting two internal ids.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uvaco/cardauth/internal/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against dsn and pings it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Lookup(ctx context.Context, p identity.Provider, providerUserID string) (*identity.Link, error) {
	const q = `
		SELECT provider, provider_user_id, user_id, display_name, email, last_login_at
		FROM card_identities
		WHERE provider=$1 AND provider_user_id=$2`
	row := s.pool.QueryRow(ctx, q, string(p), providerUserID)
	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("pg: lookup: %w", err)
	}
	return l, nil
}

func (s *Store) EnsureLink(ctx context.Context, link identity.Link) (*identity.Link, error) {
	const ins = `
		INSERT INTO card_identities (provider, provider_user_id, user_id, display_name, email, last_login_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (provider, provider_user_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, ins,
		string(link.Provider),
		link.ProviderUserID,
		link.InternalUserID,
		nullable(link.DisplayName),
		nullable(link.Email),
		link.LastLoginAt,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: insert link: %w", err)
	}
	// Read back the canonical row: ours, or the one a concurrent login won
	// the insert with.
	stored, err := s.Lookup(ctx, link.Provider, link.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("pg: read back link: %w", err)
	}
	return stored, nil
}

func (s *Store) Touch(ctx context.Context, p identity.Provider, providerUserID string, profile identity.Profile) error {
	const q = `
		UPDATE card_identities
		SET display_name = COALESCE(NULLIF($3,''), display_name),
		    email        = COALESCE(NULLIF($4,''), email),
		    last_login_at = $5
		WHERE provider=$1 AND provider_user_id=$2`
	tag, err := s.pool.Exec(ctx, q, string(p), providerUserID, profile.DisplayName, profile.Email, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("pg: touch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*identity.Link, error) {
	var (
		l           identity.Link
		provider    string
		displayName *string
		email       *string
		lastLogin   *time.Time
	)
	if err := row.Scan(&provider, &l.ProviderUserID, &l.InternalUserID, &displayName, &email, &lastLogin); err != nil {
		return nil, err
	}
	l.Provider = identity.Provider(provider)
	if displayName != nil {
		l.DisplayName = *displayName
	}
	if email != nil {
		l.Email = *email
	}
	if lastLogin != nil {
		l.LastLoginAt = *lastLogin
	}
	return &l, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
