// Package session mints the application session tokens handed back to
// clients after a successful provider exchange. Tokens are self-contained
// HS256 JWTs verifiable by the backing REST layer with the same shared
// secret, so issuing a session never requires a round trip.
package session

import (
	"time"

	"github.com/uvaco/cardauth/internal/token"
)

// Lifetime is how long an issued session stays valid.
const Lifetime = 7 * 24 * time.Hour

// Audience is both the aud claim and the role granted to every session.
const Audience = "authenticated"

// Issuer signs session tokens with the shared backend secret.
type Issuer struct {
	secret string
	now    func() time.Time
}

// NewIssuer builds an Issuer. The secret must be the backend's JWT secret
// or issued tokens will be rejected downstream.
func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// Session is an issued token plus the metadata returned to the client.
type Session struct {
	Token     string
	UserID    string
	ExpiresIn int // seconds
}

// Issue mints a session for the internal user id. Email is optional and
// carried as a claim when present so downstream policies can read it
// without a lookup.
func (i *Issuer) Issue(userID, email string) (*Session, error) {
	now := i.now().Unix()
	claims := map[string]any{
		"aud":  Audience,
		"role": Audience,
		"sub":  userID,
		"iat":  now,
		"exp":  now + int64(Lifetime/time.Second),
	}
	if email != "" {
		claims["email"] = email
	}
	tok, err := token.EncodeHS256(claims, i.secret)
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     tok,
		UserID:    userID,
		ExpiresIn: int(Lifetime / time.Second),
	}, nil
}
