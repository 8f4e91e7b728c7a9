// Package identity maps external provider identities to this system's own
// stable user ids. One (provider, providerUserID) pair maps to exactly one
// internal id for the lifetime of the system; links are created on first
// login and never reassigned.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider enumerates the supported identity providers.
type Provider string

const (
	ProviderLINE   Provider = "line"
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
)

// ParseProvider validates a provider name from a route or config value.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderLINE:
		return ProviderLINE, nil
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderApple:
		return ProviderApple, nil
	}
	return "", fmt.Errorf("identity: unknown provider %q", s)
}

// Link is the durable association between one external identity and one
// internal account.
type Link struct {
	Provider       Provider
	ProviderUserID string
	InternalUserID string
	DisplayName    string
	Email          string
	LastLoginAt    time.Time
}

// Profile carries the mutable fields refreshed on every login.
type Profile struct {
	DisplayName string
	Email       string
}

// ErrNotFound indicates no link exists for the given provider identity.
var ErrNotFound = errors.New("identity: link not found")

// Store failure sentinels. Callers branch on these to tell a failed read
// from a failed write; both are infrastructure failures, never user errors.
var (
	ErrStoreQuery  = errors.New("identity: store query failed")
	ErrStoreInsert = errors.New("identity: store insert failed")
)

// Store is the identity-link mapping store.
//
// EnsureLink must be atomic: two concurrent first logins for the same
// provider identity must converge on one internal id. Implementations use
// an insert-if-absent (unique key + read-back), never read-then-write.
type Store interface {
	// Lookup returns the link for (provider, providerUserID), or ErrNotFound.
	Lookup(ctx context.Context, p Provider, providerUserID string) (*Link, error)

	// EnsureLink inserts link if no row exists for its provider identity and
	// returns the canonical stored link either way.
	EnsureLink(ctx context.Context, link Link) (*Link, error)

	// Touch updates profile fields and lastLoginAt for an existing link.
	// Best-effort from the caller's point of view; an error must not block
	// login.
	Touch(ctx context.Context, p Provider, providerUserID string, profile Profile) error
}
