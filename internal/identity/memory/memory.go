// Package memory is the in-memory identity store, used in tests and for
// local single-process runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/uvaco/cardauth/internal/identity"
)

type key struct {
	provider string
	pid      string
}

type Store struct {
	mu    sync.Mutex
	links map[key]identity.Link
}

func New() *Store {
	return &Store{links: make(map[key]identity.Link)}
}

func (s *Store) Lookup(_ context.Context, p identity.Provider, providerUserID string) (*identity.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[key{string(p), providerUserID}]
	if !ok {
		return nil, identity.ErrNotFound
	}
	cp := l
	return &cp, nil
}

func (s *Store) EnsureLink(_ context.Context, link identity.Link) (*identity.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{string(link.Provider), link.ProviderUserID}
	if existing, ok := s.links[k]; ok {
		cp := existing
		return &cp, nil
	}
	s.links[k] = link
	cp := link
	return &cp, nil
}

func (s *Store) Touch(_ context.Context, p identity.Provider, providerUserID string, profile identity.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{string(p), providerUserID}
	l, ok := s.links[k]
	if !ok {
		return identity.ErrNotFound
	}
	if profile.DisplayName != "" {
		l.DisplayName = profile.DisplayName
	}
	if profile.Email != "" {
		l.Email = profile.Email
	}
	l.LastLoginAt = time.Now().UTC()
	s.links[k] = l
	return nil
}

// Count returns the number of stored links. Test helper.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}
