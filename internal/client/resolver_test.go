package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/uvaco/cardauth/internal/backend"
	"github.com/uvaco/cardauth/internal/token"
)

type fakeSessionSource struct {
	sess *backend.Session
	err  error
}

func (f *fakeSessionSource) GetSession(context.Context) (*backend.Session, error) {
	return f.sess, f.err
}

func mintToken(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	now := time.Now().Unix()
	tok, err := token.EncodeHS256(map[string]any{
		"sub": sub,
		"iat": now,
		"exp": now + int64(ttl/time.Second),
	}, "test-secret")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func newTestResolver(store Storage, managed backend.SessionSource) *Resolver {
	return NewResolver(backend.New("https://backend.example", "anon"), managed, store, nil)
}

func TestResolveCustomTokenWinsOverManagedSession(t *testing.T) {
	store := NewMemoryStorage()
	_ = store.Set(TokenKey, mintToken(t, "bridge-user", time.Hour))
	managed := &fakeSessionSource{sess: &backend.Session{UserID: "managed-user", Token: "m"}}

	ac, reason := newTestResolver(store, managed).Resolve(context.Background())
	if ac == nil {
		t.Fatalf("want context, got reason %q", reason)
	}
	if ac.Mode != ModeCustom || ac.UserID != "bridge-user" {
		t.Fatalf("custom token must govern: %+v", ac)
	}
	if ac.Client == nil {
		t.Fatalf("resolved context must carry a bound client")
	}
}

func TestResolveExpiredTokenFallsBackAndClears(t *testing.T) {
	store := NewMemoryStorage()
	_ = store.Set(TokenKey, mintToken(t, "bridge-user", time.Minute)) // inside the skew
	managed := &fakeSessionSource{sess: &backend.Session{UserID: "managed-user", Token: "m"}}

	ac, reason := newTestResolver(store, managed).Resolve(context.Background())
	if ac == nil {
		t.Fatalf("want managed fallback, got reason %q", reason)
	}
	if ac.Mode != ModeManaged || ac.UserID != "managed-user" {
		t.Fatalf("expired token must yield to managed session: %+v", ac)
	}
	if v, _ := store.Get(TokenKey); v != "" {
		t.Fatalf("expired token must be cleared, still stored: %q", v)
	}
}

func TestResolveFailureReasons(t *testing.T) {
	bg := context.Background()

	if _, reason := NewResolver(nil, nil, NewMemoryStorage(), nil).Resolve(bg); reason != ReasonNotConfigured {
		t.Fatalf("nil backend: want not-configured, got %q", reason)
	}

	if _, reason := newTestResolver(NewMemoryStorage(), &fakeSessionSource{err: errors.New("boom")}).Resolve(bg); reason != ReasonSessionError {
		t.Fatalf("lookup error: want session-error, got %q", reason)
	}

	if _, reason := newTestResolver(NewMemoryStorage(), &fakeSessionSource{}).Resolve(bg); reason != ReasonNoSession {
		t.Fatalf("no session anywhere: want no-session, got %q", reason)
	}

	store := NewMemoryStorage()
	_ = store.Set(TokenKey, mintToken(t, "u", time.Minute))
	if _, reason := newTestResolver(store, &fakeSessionSource{}).Resolve(bg); reason != ReasonJWTExpired {
		t.Fatalf("expired token, no fallback: want jwt-expired, got %q", reason)
	}
}

func TestResolveExpiredTokenEvictsCachedClient(t *testing.T) {
	store := NewMemoryStorage()
	tok := mintToken(t, "u", time.Minute) // inside the skew
	_ = store.Set(TokenKey, tok)

	cache := NewClientCache()
	cache.put(tok, backend.New("https://backend.example", "anon").WithToken(tok))
	r := NewResolver(backend.New("https://backend.example", "anon"), nil, store, cache)

	if ac, reason := r.Resolve(context.Background()); ac != nil || reason != ReasonJWTExpired {
		t.Fatalf("want jwt-expired, got %+v %q", ac, reason)
	}
	if cache.Len() != 0 {
		t.Fatalf("expired token's client must leave the cache, size %d", cache.Len())
	}
}

func TestResolveReusesCachedClientPerToken(t *testing.T) {
	store := NewMemoryStorage()
	tok := mintToken(t, "u", time.Hour)
	_ = store.Set(TokenKey, tok)

	cache := NewClientCache()
	r := NewResolver(backend.New("https://backend.example", "anon"), nil, store, cache)

	first, _ := r.Resolve(context.Background())
	second, _ := r.Resolve(context.Background())
	if first == nil || second == nil {
		t.Fatalf("both resolutions must succeed")
	}
	if first.Client != second.Client {
		t.Fatalf("same token must reuse the same client")
	}
	if cache.Len() != 1 {
		t.Fatalf("cache size: %d", cache.Len())
	}
}

func TestLogoutClearsTokenAndCache(t *testing.T) {
	store := NewMemoryStorage()
	_ = store.Set(TokenKey, mintToken(t, "u", time.Hour))
	cache := NewClientCache()
	r := NewResolver(backend.New("https://backend.example", "anon"), nil, store, cache)

	if ac, _ := r.Resolve(context.Background()); ac == nil {
		t.Fatalf("precondition: resolvable")
	}
	r.Logout()
	if v, _ := store.Get(TokenKey); v != "" {
		t.Fatalf("logout must clear the stored token")
	}
	if cache.Len() != 0 {
		t.Fatalf("logout must clear the client cache")
	}
	if _, reason := r.Resolve(context.Background()); reason != ReasonNotConfigured {
		t.Fatalf("after logout with no fallback: got %q", reason)
	}
}

func TestRequireAuthRedirectsWithNext(t *testing.T) {
	nav := &RecordingNavigator{}
	r := NewResolver(nil, nil, NewMemoryStorage(), nil)

	ac, ok := RequireAuth(context.Background(), r, nav, "/login", "/cards/42")
	if ok || ac != nil {
		t.Fatalf("unauthenticated must fail")
	}
	if len(nav.Redirects) != 1 || nav.Redirects[0] != "/login?next=%2Fcards%2F42" {
		t.Fatalf("redirect: %v", nav.Redirects)
	}

	store := NewMemoryStorage()
	_ = store.Set(TokenKey, mintToken(t, "u", time.Hour))
	r2 := newTestResolver(store, nil)
	ac, ok = RequireAuth(context.Background(), r2, nav, "/login", "/cards/42")
	if !ok || ac == nil || ac.UserID != "u" {
		t.Fatalf("authenticated must pass: %+v", ac)
	}
	if len(nav.Redirects) != 1 {
		t.Fatalf("authenticated must not redirect")
	}
}
