package provider

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/uvaco/cardauth/internal/cache"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const jwksTTL = time.Hour

// IDTokenVerifier validates inline identity tokens against the provider's
// published signing keys: signature, issuer, audience and expiry all have
// to hold before any embedded claim is trusted.
type IDTokenVerifier struct {
	desc  Descriptor
	cache cache.Cache
	http  *http.Client
}

// NewIDTokenVerifier builds a verifier for desc. c caches the JWKS document
// between logins.
func NewIDTokenVerifier(desc Descriptor, c cache.Cache) (*IDTokenVerifier, error) {
	if desc.JWKSEndpoint == "" {
		return nil, fmt.Errorf("provider %s: no JWKS endpoint", desc.Name)
	}
	return &IDTokenVerifier{
		desc:  desc,
		cache: c,
		http:  &http.Client{Timeout: profileTimeout},
	}, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// Verify checks the token and returns the embedded identity.
func (v *IDTokenVerifier) Verify(ctx context.Context, idToken, audience string) (*Identity, error) {
	keyfunc := func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("id_token: missing kid")
		}
		return v.rsaKeyForKid(ctx, kid)
	}

	tok, err := jwtv5.Parse(idToken, keyfunc,
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithAudience(audience),
		jwtv5.WithLeeway(30*time.Second),
	)
	if err != nil || !tok.Valid {
		return nil, &UpstreamError{Op: "id_token", Err: fmt.Errorf("verification failed: %w", err)}
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, &UpstreamError{Op: "id_token", Err: errors.New("unexpected claims type")}
	}

	iss, _ := claims["iss"].(string)
	if !v.issuerOK(iss) {
		return nil, &UpstreamError{Op: "id_token", Err: fmt.Errorf("bad issuer %q", iss)}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, &UpstreamError{Op: "id_token", Err: errors.New("missing sub")}
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return &Identity{
		ProviderUserID: sub,
		DisplayName:    strings.TrimSpace(name),
		Email:          strings.TrimSpace(email),
	}, nil
}

func (v *IDTokenVerifier) issuerOK(iss string) bool {
	for _, want := range v.desc.Issuers {
		if iss == want {
			return true
		}
	}
	return false
}

func (v *IDTokenVerifier) rsaKeyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	doc, err := v.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range doc.Keys {
		if k.Kid != kid || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, err
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, err
		}
		e := 65537
		if len(eb) > 0 {
			e = 0
			for _, b := range eb {
				e = (e << 8) | int(b)
			}
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
	}
	return nil, fmt.Errorf("id_token: kid %q not in JWKS", kid)
}

func (v *IDTokenVerifier) fetchJWKS(ctx context.Context) (*jwks, error) {
	key := "jwks:" + string(v.desc.Name)
	if v.cache != nil {
		if b, ok := v.cache.Get(key); ok {
			var doc jwks
			if json.Unmarshal(b, &doc) == nil {
				return &doc, nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.desc.JWKSEndpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("jwks http %d", resp.StatusCode)
	}
	var doc jwks
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("jwks decode: %w", err)
	}
	if v.cache != nil {
		if b, err := json.Marshal(&doc); err == nil {
			v.cache.Set(key, b, jwksTTL)
		}
	}
	return &doc, nil
}
