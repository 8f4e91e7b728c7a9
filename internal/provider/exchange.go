package provider

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/uvaco/cardauth/internal/observability/logger"
	"github.com/uvaco/cardauth/internal/token"
)

const (
	exchangeTimeout = 8 * time.Second
	profileTimeout  = 5 * time.Second

	// Apple caps client-assertion validity at six months; regenerating per
	// request keeps key rotation a config change.
	assertionTTL = 180 * 24 * time.Hour
)

// Credentials is the server-side secret material for one provider.
type Credentials struct {
	ClientID     string
	ClientSecret string

	// Assertion signing material (Apple).
	TeamID     string
	KeyID      string
	PrivateKey *ecdsa.PrivateKey
}

// UpstreamError is a provider-side rejection or transport failure during
// the code exchange or profile call. The HTTP layer maps it to a 400 with
// the detail attached; it is the user's flow that failed, not our
// infrastructure.
type UpstreamError struct {
	Op     string // "token_exchange" | "profile" | "id_token"
	Status int    // 0 for transport failures
	Detail json.RawMessage
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: http %d: %s", e.Op, e.Status, e.Detail)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline, so callers can
// surface the normalized TIMEOUT marker instead of a raw transport string.
func (e *UpstreamError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// TokenResponse is the provider token endpoint reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Identity is the provider-stable identity extracted after the exchange.
type Identity struct {
	ProviderUserID string
	DisplayName    string
	Email          string
}

// Exchanger performs the trusted half of the OAuth flow for one provider.
type Exchanger struct {
	desc     Descriptor
	creds    Credentials
	http     *http.Client
	verifier *IDTokenVerifier // nil: decode id_tokens without verification
}

// Option configures an Exchanger.
type Option func(*Exchanger)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(e *Exchanger) { e.http = c }
}

// WithIDTokenVerifier enables signature/issuer/audience verification of
// inline identity tokens against the provider's published keys.
func WithIDTokenVerifier(v *IDTokenVerifier) Option {
	return func(e *Exchanger) { e.verifier = v }
}

// NewExchanger builds an Exchanger for desc with creds.
func NewExchanger(desc Descriptor, creds Credentials, opts ...Option) *Exchanger {
	e := &Exchanger{
		desc:  desc,
		creds: creds,
		http:  &http.Client{Timeout: exchangeTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Descriptor returns the provider descriptor.
func (e *Exchanger) Descriptor() Descriptor { return e.desc }

// ExchangeCode trades an authorization code for provider tokens. The
// redirect URI is forwarded verbatim; byte-for-byte matching against the
// initiating request is the provider's check, not ours.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", e.creds.ClientID)
	if e.desc.RequiresAssertion {
		assertion, err := e.clientAssertion()
		if err != nil {
			return nil, fmt.Errorf("provider: client assertion: %w", err)
		}
		form.Set("client_secret", assertion)
	} else {
		form.Set("client_secret", e.creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.desc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "token_exchange", Err: err}
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	if resp.StatusCode/100 != 2 {
		return nil, &UpstreamError{Op: "token_exchange", Status: resp.StatusCode, Detail: raw}
	}
	var tr TokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, &UpstreamError{Op: "token_exchange", Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return &tr, nil
}

// Identity resolves the provider-stable identity from the token response.
// idTokenFromCallback is the inline id_token the browser may have carried
// through the redirect (Apple); the token-endpoint copy wins when both are
// present since it arrived over the provider-authenticated channel.
func (e *Exchanger) Identity(ctx context.Context, tr *TokenResponse, idTokenFromCallback string) (*Identity, error) {
	switch e.desc.Source {
	case SourceIDToken:
		idToken := tr.IDToken
		if idToken == "" {
			idToken = idTokenFromCallback
		}
		if idToken == "" {
			return nil, &UpstreamError{Op: "id_token", Err: errors.New("no id_token in token response")}
		}
		if e.verifier != nil {
			return e.verifier.Verify(ctx, idToken, e.creds.ClientID)
		}
		id, err := DecodeIDTokenUnsafe(idToken)
		if err != nil {
			return nil, &UpstreamError{Op: "id_token", Err: err}
		}
		return id, nil
	default:
		return e.fetchProfile(ctx, tr.AccessToken)
	}
}

func (e *Exchanger) fetchProfile(ctx context.Context, accessToken string) (*Identity, error) {
	if accessToken == "" {
		return nil, &UpstreamError{Op: "profile", Err: errors.New("no access_token in token response")}
	}
	ctx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.desc.ProfileEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: "profile", Err: err}
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	if resp.StatusCode/100 != 2 {
		return nil, &UpstreamError{Op: "profile", Status: resp.StatusCode, Detail: raw}
	}

	// The two profile-endpoint providers disagree on field names; decode
	// the superset and take whichever is set.
	var p struct {
		UserID      string `json:"userId"` // LINE
		DisplayName string `json:"displayName"`
		Picture     string `json:"pictureUrl"`

		ID    string `json:"id"` // Google
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &UpstreamError{Op: "profile", Err: fmt.Errorf("decode: %w", err)}
	}

	id := &Identity{
		ProviderUserID: strings.TrimSpace(firstNonEmpty(p.UserID, p.ID)),
		DisplayName:    strings.TrimSpace(firstNonEmpty(p.DisplayName, p.Name)),
		Email:          strings.TrimSpace(p.Email),
	}
	if id.ProviderUserID == "" {
		return nil, &UpstreamError{Op: "profile", Status: resp.StatusCode, Detail: raw, Err: errors.New("no user id in profile")}
	}
	return id, nil
}

// clientAssertion builds the ES256 service assertion Apple's token endpoint
// requires in place of a client secret.
func (e *Exchanger) clientAssertion() (string, error) {
	if e.creds.PrivateKey == nil || e.creds.KeyID == "" || e.creds.TeamID == "" {
		return "", errors.New("assertion credentials incomplete")
	}
	now := time.Now()
	return token.SignES256(map[string]any{
		"iss": e.creds.TeamID,
		"sub": e.creds.ClientID,
		"aud": "https://appleid.apple.com",
		"iat": now.Unix(),
		"exp": now.Add(assertionTTL).Unix(),
	}, e.creds.PrivateKey, e.creds.KeyID)
}

// LogUpstreamFailure logs an upstream failure with normalized detail.
func LogUpstreamFailure(ctx context.Context, p Descriptor, err error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("provider.exchange"),
		logger.Provider(string(p.Name)),
	)
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Timeout() {
		log.Warn("upstream call timed out", logger.Op(ue.Op))
		return
	}
	log.Warn("upstream call failed", logger.Err(err))
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
