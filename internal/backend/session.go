package backend

import (
	"context"
	"fmt"
	"net/http"
)

// Session is the managed backend's own notion of "who is logged in",
// independent of the bridge's self-issued tokens.
type Session struct {
	UserID string
	Token  string
}

// SessionSource yields the current managed session, if any. The auth context
// resolver falls back to it when no valid bridge token is stored.
type SessionSource interface {
	// GetSession returns (nil, nil) when there is simply no session.
	GetSession(ctx context.Context) (*Session, error)
}

// AuthClient resolves the managed session by asking the backend's auth
// surface who the given access token belongs to. Refresh is the backend
// SDK's concern, not ours; we only read the resulting session.
type AuthClient struct {
	Client *Client
	// TokenFunc returns the managed access token, or "" when absent.
	TokenFunc func() string
}

type authUser struct {
	ID string `json:"id"`
}

func (a *AuthClient) GetSession(ctx context.Context) (*Session, error) {
	if a == nil || a.Client == nil || a.TokenFunc == nil {
		return nil, nil
	}
	tok := a.TokenFunc()
	if tok == "" {
		return nil, nil
	}
	resp, err := a.Client.WithToken(tok).Get(ctx, "/auth/v1/user")
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
		return nil, nil
	}
	if !resp.OK() {
		return nil, fmt.Errorf("backend: session lookup http %d", resp.Status)
	}
	var u authUser
	if err := resp.JSON(&u); err != nil {
		return nil, fmt.Errorf("backend: session lookup: %w", err)
	}
	if u.ID == "" {
		return nil, nil
	}
	return &Session{UserID: u.ID, Token: tok}, nil
}
