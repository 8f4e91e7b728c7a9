package client

import (
	"context"
	"net/url"
)

// RequireAuth resolves the auth context and, on failure, navigates to the
// login entry point with a next parameter pointing back at current. It has
// a navigation side effect, so only interactive surfaces should call it;
// everything else uses Resolver.Resolve and handles the nil context.
func RequireAuth(ctx context.Context, r *Resolver, nav Navigator, loginPath, current string) (*AuthContext, bool) {
	ac, _ := r.Resolve(ctx)
	if ac != nil {
		return ac, true
	}
	target := loginPath
	if current != "" {
		target += "?next=" + url.QueryEscape(current)
	}
	nav.Redirect(target)
	return nil, false
}
