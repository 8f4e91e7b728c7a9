// Package token implements the compact signed-token codec the identity
// bridge issues and consumes: HS256 session tokens shared with the managed
// backend, and ES256 service assertions for providers that require one.
//
// The codec is deliberately self-contained. The session token must be
// byte-compatible with what the backend's row-level security layer verifies,
// so the header, payload and signature segments are produced here rather
// than through a token library with its own opinions about claims.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var errMalformed = errors.New("token: malformed")

// ExpirySkew is subtracted from a token's exp before comparing against the
// current time. Absorbs clock drift and keeps a token from expiring in the
// middle of a request.
const ExpirySkew = 300 * time.Second

// EncodeHS256 serializes payload as a JWT signed with HMAC-SHA256.
func EncodeHS256(payload map[string]any, secret string) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	hb, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	data := b64(hb) + "." + b64(pb)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return data + "." + b64(mac.Sum(nil)), nil
}

// VerifyHS256 reports whether the token's signature validates against secret.
// It checks the signature only; expiry is the caller's concern via IsExpired.
func VerifyHS256(tok, secret string) bool {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	want := b64(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(parts[2]))
}

// DecodeSubjectUnsafe extracts the sub claim without verifying the
// signature. Only for tokens the caller already trusts (just issued, or
// issued inside the same security boundary). Returns "" on any malformed
// input.
func DecodeSubjectUnsafe(tok string) string {
	claims, err := decodePayload(tok)
	if err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return strings.TrimSpace(sub)
}

// IsExpired reports whether the token is expired as of now, applying
// ExpirySkew. A missing or unparseable exp counts as expired.
func IsExpired(tok string) bool {
	return IsExpiredAt(tok, time.Now())
}

// IsExpiredAt is IsExpired against an explicit clock.
func IsExpiredAt(tok string, now time.Time) bool {
	claims, err := decodePayload(tok)
	if err != nil {
		return true
	}
	exp, ok := numClaim(claims, "exp")
	if !ok {
		return true
	}
	return float64(now.Unix()) > exp-ExpirySkew.Seconds()
}

// decodePayload base64url-decodes and parses the middle segment.
func decodePayload(tok string) (map[string]any, error) {
	parts := strings.Split(strings.TrimSpace(tok), ".")
	if len(parts) < 2 {
		return nil, errMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// Tolerate padded input.
		raw, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, errMalformed
		}
	}
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, errMalformed
	}
	return claims, nil
}

func numClaim(claims map[string]any, key string) (float64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
