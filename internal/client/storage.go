// Package client implements the untrusted half of the login flow: state
// generation and verification across the redirect round trip, the call to
// the exchange endpoint, and the auth context resolver that decides per
// call whether a bridge token or a managed session supplies identity.
package client

import (
	"sync"
)

// Storage is a string key-value store with error returns. Implementations
// back it with whatever the embedding surface offers; failures are
// swallowed at the call sites where losing the value is survivable.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Tiers holds the two storage tiers a login attempt writes redundantly.
// Restrictive embedding contexts sometimes block one tier; the round-trip
// state survives as long as either works.
type Tiers struct {
	Durable Storage
	Session Storage
}

// getEither reads key from the durable tier first, then the session tier.
func (t Tiers) getEither(key string) string {
	if t.Durable != nil {
		if v, err := t.Durable.Get(key); err == nil && v != "" {
			return v
		}
	}
	if t.Session != nil {
		if v, err := t.Session.Get(key); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// setBoth writes key to both tiers, ignoring per-tier failures.
func (t Tiers) setBoth(key, value string) {
	if t.Durable != nil {
		_ = t.Durable.Set(key, value)
	}
	if t.Session != nil {
		_ = t.Session.Set(key, value)
	}
}

// removeBoth clears key from both tiers.
func (t Tiers) removeBoth(key string) {
	if t.Durable != nil {
		_ = t.Durable.Remove(key)
	}
	if t.Session != nil {
		_ = t.Session.Remove(key)
	}
}

// MemoryStorage is an in-process Storage for tests and non-browser hosts.
type MemoryStorage struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

// failingStorage rejects every operation. Used in tests to model a blocked
// tier.
type failingStorage struct{ err error }

func (f failingStorage) Get(string) (string, error) { return "", f.err }
func (f failingStorage) Set(string, string) error   { return f.err }
func (f failingStorage) Remove(string) error        { return f.err }
