package client

import (
	"context"
	"sync"

	"github.com/uvaco/cardauth/internal/backend"
	"github.com/uvaco/cardauth/internal/observability/logger"
	"github.com/uvaco/cardauth/internal/token"
)

// Mode says which credential governs a resolved auth context.
type Mode string

const (
	ModeCustom  Mode = "custom"
	ModeManaged Mode = "managed"
)

// Reason explains why resolution yielded no identity.
type Reason string

const (
	ReasonNotConfigured Reason = "not-configured"
	ReasonSessionError  Reason = "session-error"
	ReasonNoSession     Reason = "no-session"
	ReasonJWTExpired    Reason = "jwt-expired"
)

// AuthContext is the per-call view of "who is calling" plus a request
// client already bound to the governing credential. It is recomputed on
// every Resolve; only the underlying per-token clients are cached.
type AuthContext struct {
	Mode    Mode
	UserID  string
	Client  *backend.Client
	Session *backend.Session // set in managed mode
}

// ClientCache maps a session token to its bound client. Lives for the life
// of the process, append-only except for Clear on logout.
type ClientCache struct {
	mu sync.Mutex
	m  map[string]*backend.Client
}

func NewClientCache() *ClientCache {
	return &ClientCache{m: make(map[string]*backend.Client)}
}

func (c *ClientCache) get(tok string) *backend.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[tok]
}

func (c *ClientCache) put(tok string, cl *backend.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[tok] = cl
}

func (c *ClientCache) drop(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, tok)
}

// Clear drops every cached client.
func (c *ClientCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]*backend.Client)
}

// Len reports the number of cached clients.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

// Resolver decides, per call, whether the stored bridge token or the
// managed session supplies identity. A non-expired bridge token always
// wins; a user who completed the custom OAuth flow must never be
// overridden by a stale managed session.
type Resolver struct {
	base    *backend.Client // nil when the backend is not configured
	managed backend.SessionSource
	store   Storage // durable tier holding the bridge token
	cache   *ClientCache
}

// NewResolver builds a Resolver. cache may be shared across resolvers; a
// nil cache gets a private one.
func NewResolver(base *backend.Client, managed backend.SessionSource, store Storage, cache *ClientCache) *Resolver {
	if cache == nil {
		cache = NewClientCache()
	}
	return &Resolver{base: base, managed: managed, store: store, cache: cache}
}

// Resolve runs the resolution state machine. The second return is the
// failure reason, meaningful only when the context is nil.
func (r *Resolver) Resolve(ctx context.Context) (*AuthContext, Reason) {
	log := logger.From(ctx).With(
		logger.Layer("client"),
		logger.Component("client.resolver"),
	)
	if r.base == nil {
		return nil, ReasonNotConfigured
	}

	expiredSeen := false
	if r.store != nil {
		if tok, err := r.store.Get(TokenKey); err == nil && tok != "" {
			if !token.IsExpired(tok) {
				cl := r.cache.get(tok)
				if cl == nil {
					cl = r.base.WithToken(tok)
					r.cache.put(tok, cl)
				}
				return &AuthContext{
					Mode:   ModeCustom,
					UserID: token.DecodeSubjectUnsafe(tok),
					Client: cl,
				}, ""
			}
			// An expired bridge token must never fall back to itself,
			// neither from storage nor through its cached client.
			expiredSeen = true
			_ = r.store.Remove(TokenKey)
			r.cache.drop(tok)
			log.Debug("cleared expired bridge token")
		}
	}

	if r.managed == nil {
		if expiredSeen {
			return nil, ReasonJWTExpired
		}
		return nil, ReasonNotConfigured
	}
	sess, err := r.managed.GetSession(ctx)
	if err != nil {
		log.Warn("managed session lookup failed", logger.Err(err))
		return nil, ReasonSessionError
	}
	if sess == nil {
		if expiredSeen {
			return nil, ReasonJWTExpired
		}
		return nil, ReasonNoSession
	}
	return &AuthContext{
		Mode:    ModeManaged,
		UserID:  sess.UserID,
		Client:  r.base.WithToken(sess.Token),
		Session: sess,
	}, ""
}

// Logout clears the stored bridge token and every cached client.
func (r *Resolver) Logout() {
	if r.store != nil {
		_ = r.store.Remove(TokenKey)
	}
	r.cache.Clear()
}
