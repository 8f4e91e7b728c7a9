package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/uvaco/cardauth/internal/observability/logger"
	"github.com/uvaco/cardauth/internal/provider"
)

// exchangeCallTimeout bounds the end-to-end call to the exchange endpoint.
// It has to cover the endpoint's own upstream calls, so it is longer than
// any single server-side deadline.
const exchangeCallTimeout = 15 * time.Second

// TokenKey is the durable-storage key holding the current session token.
const TokenKey = "cardauth_session_token"

// DefaultLanding is where a completed login goes when no next target
// survived the round trip.
const DefaultLanding = "/mypage"

var numericID = regexp.MustCompile(`^[0-9]+$`)

// FlowConfig is the per-deployment configuration of one login flow.
type FlowConfig struct {
	ClientID    string
	RedirectURI string
	ExchangeURL string
	APIKey      string // the deployment's public key, sent as apikey and bearer
	Landing     string // post-login target when none was requested
}

// Flow drives one provider's login round trip from the client side.
type Flow struct {
	desc  provider.Descriptor
	cfg   FlowConfig
	store Tiers
	nav   Navigator
	http  *http.Client
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithFlowHTTPClient overrides the HTTP client (tests).
func WithFlowHTTPClient(c *http.Client) FlowOption {
	return func(f *Flow) { f.http = c }
}

// NewFlow builds a Flow for the provider described by desc.
func NewFlow(desc provider.Descriptor, cfg FlowConfig, store Tiers, nav Navigator, opts ...FlowOption) *Flow {
	if cfg.Landing == "" {
		cfg.Landing = DefaultLanding
	}
	f := &Flow{
		desc:  desc,
		cfg:   cfg,
		store: store,
		nav:   nav,
		http:  &http.Client{Timeout: exchangeCallTimeout},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Flow) stateKey() string { return "cardauth_" + string(f.desc.Name) + "_state" }
func (f *Flow) nextKey() string  { return "cardauth_" + string(f.desc.Name) + "_next" }

// BeginLogin validates configuration, persists the round-trip state and
// redirects to the provider's authorize endpoint. It returns false without
// redirecting when the configuration is unusable; the caller shows the
// user a diagnostic instead of sending them upstream with a request the
// provider will reject opaquely.
func (f *Flow) BeginLogin(next string) bool {
	log := logger.L().With(
		logger.Layer("client"),
		logger.Component("client.flow"),
		logger.Provider(string(f.desc.Name)),
	)
	if f.cfg.ClientID == "" {
		log.Warn("login not attempted: client id missing")
		return false
	}
	if f.desc.NumericClientID && !numericID.MatchString(f.cfg.ClientID) {
		log.Warn("login not attempted: client id is not numeric")
		return false
	}

	state := GenerateState(f.desc)
	f.store.setBoth(f.stateKey(), state)
	if next != "" {
		f.store.setBoth(f.nextKey(), next)
	}

	q := url.Values{}
	q.Set("response_type", f.desc.ResponseType)
	q.Set("client_id", f.cfg.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("state", state)
	q.Set("scope", strings.Join(f.desc.Scopes, " "))
	if f.desc.ResponseMode != "" {
		q.Set("response_mode", f.desc.ResponseMode)
	}
	for k, v := range f.desc.AuthExtras {
		q.Set(k, v)
	}
	f.nav.Redirect(f.desc.AuthEndpoint + "?" + q.Encode())
	return true
}

// CompleteLogin processes a callback URL. It never panics across this
// boundary; every failure is a structured Outcome.
func (f *Flow) CompleteLogin(ctx context.Context, rawURL string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			detail, _ := json.Marshal(fmt.Sprint(r))
			out = failed(errCode(f.desc, suffixCallback), 0, detail)
		}
	}()

	u, err := url.Parse(rawURL)
	if err != nil {
		detail, _ := json.Marshal(err.Error())
		return failed(errCode(f.desc, suffixCallback), 0, detail)
	}
	q := u.Query()
	code, state := q.Get("code"), q.Get("state")

	// A URL with neither parameter is a plain page load, not a callback.
	if code == "" && state == "" {
		return notHandled()
	}
	if !RecognizesState(f.desc, state) {
		return notHandled()
	}
	if code == "" {
		return failed(errCode(f.desc, suffixNoCode), 0, nil)
	}

	expected := f.store.getEither(f.stateKey())
	if !VerifyState(state, expected) {
		return failed(errCode(f.desc, suffixBadState), 0, nil)
	}

	token, userID, ferr := f.callExchange(ctx, code, q.Get("id_token"))
	if ferr != nil {
		return Outcome{Handled: true, Err: ferr}
	}
	if token == "" || userID == "" {
		return failed(errCode(f.desc, suffixNoToken), 0, nil)
	}

	if f.store.Durable != nil {
		_ = f.store.Durable.Set(TokenKey, token)
	}
	f.store.removeBoth(f.stateKey())

	next := f.store.getEither(f.nextKey())
	f.store.removeBoth(f.nextKey())
	if next == "" {
		next = f.cfg.Landing
	}
	f.nav.Replace(next)
	return succeeded()
}

// exchangeResponse is the success body of the exchange endpoint.
type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
}

var timeoutDetail = json.RawMessage(`"TIMEOUT"`)

func (f *Flow) callExchange(ctx context.Context, code, idToken string) (token, userID string, ferr *FlowError) {
	ctx, cancel := context.WithTimeout(ctx, exchangeCallTimeout)
	defer cancel()

	body := map[string]string{
		"code":         code,
		"redirect_uri": f.cfg.RedirectURI,
	}
	if idToken != "" {
		body["idToken"] = idToken
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.ExchangeURL, bytes.NewReader(payload))
	if err != nil {
		detail, _ := json.Marshal(err.Error())
		return "", "", &FlowError{Code: errCode(f.desc, suffixFetchFailed), Detail: detail}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", f.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)

	resp, err := f.http.Do(req)
	if err != nil {
		detail := timeoutDetail
		if !errors.Is(err, context.DeadlineExceeded) {
			detail, _ = json.Marshal(err.Error())
		}
		return "", "", &FlowError{Code: errCode(f.desc, suffixFetchFailed), Detail: detail}
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	if resp.StatusCode/100 != 2 {
		return "", "", &FlowError{Code: errCode(f.desc, suffixExchangeFailed), Status: resp.StatusCode, Detail: raw}
	}
	var er exchangeResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return "", "", &FlowError{Code: errCode(f.desc, suffixNoToken), Status: resp.StatusCode, Detail: raw}
	}
	return er.AccessToken, er.UserID, nil
}

// DiagReport is the non-secret configuration diagnostic the exchange
// endpoint returns on GET.
type DiagReport struct {
	OK    bool            `json:"ok"`
	Build string          `json:"build"`
	Has   map[string]bool `json:"has"`
	Len   map[string]int  `json:"len,omitempty"`
}

// Diag fetches the configuration-presence diagnostic for this provider's
// exchange endpoint.
func (f *Flow) Diag(ctx context.Context) (*DiagReport, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.ExchangeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", f.cfg.APIKey)
	req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diag: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("diag: http %d", resp.StatusCode)
	}
	var d DiagReport
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("diag: decode: %w", err)
	}
	return &d, nil
}
