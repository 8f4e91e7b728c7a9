package provider

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/uvaco/cardauth/internal/identity"
)

func lineDescriptorFor(srv *httptest.Server) Descriptor {
	d := LINE()
	d.TokenEndpoint = srv.URL + "/oauth2/v2.1/token"
	d.ProfileEndpoint = srv.URL + "/v2/profile"
	return d
}

func TestExchangeCodeAndProfile(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/v2.1/token":
			_ = r.ParseForm()
			gotForm = map[string]string{
				"grant_type":    r.PostForm.Get("grant_type"),
				"code":          r.PostForm.Get("code"),
				"redirect_uri":  r.PostForm.Get("redirect_uri"),
				"client_id":     r.PostForm.Get("client_id"),
				"client_secret": r.PostForm.Get("client_secret"),
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "prov-token", "token_type": "Bearer"})
		case "/v2/profile":
			if r.Header.Get("Authorization") != "Bearer prov-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"userId": "U777", "displayName": "Taro"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := NewExchanger(lineDescriptorFor(srv), Credentials{ClientID: "1234567890", ClientSecret: "shhh"})
	tr, err := e.ExchangeCode(context.Background(), "abc123", "https://example.com/auth")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if gotForm["grant_type"] != "authorization_code" || gotForm["code"] != "abc123" {
		t.Fatalf("bad exchange form: %v", gotForm)
	}
	if gotForm["redirect_uri"] != "https://example.com/auth" {
		t.Fatalf("redirect_uri must be forwarded verbatim, got %q", gotForm["redirect_uri"])
	}

	id, err := e.Identity(context.Background(), tr, "")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.ProviderUserID != "U777" || id.DisplayName != "Taro" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestExchangeCodeUpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer srv.Close()

	e := NewExchanger(lineDescriptorFor(srv), Credentials{ClientID: "1", ClientSecret: "s"})
	_, err := e.ExchangeCode(context.Background(), "used-code", "https://example.com/auth")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
	if ue.Op != "token_exchange" || ue.Status != http.StatusBadRequest {
		t.Fatalf("unexpected upstream error: %+v", ue)
	}
	if ue.Timeout() {
		t.Fatalf("rejection must not look like a timeout")
	}
}

func TestExchangeCodeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	e := NewExchanger(lineDescriptorFor(srv), Credentials{ClientID: "1", ClientSecret: "s"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.ExchangeCode(ctx, "abc", "https://example.com/auth")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
	if !ue.Timeout() {
		t.Fatalf("deadline failure must report Timeout(), got %v", ue)
	}
}

func unsignedIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	hb, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT", "kid": "k1"})
	pb, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(hb) + "." +
		base64.RawURLEncoding.EncodeToString(pb) + ".c2ln"
}

func TestIdentityFromInlineIDToken(t *testing.T) {
	assertionSeen := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assertionSeen = r.PostForm.Get("client_secret")
		idt := unsignedIDToken(t, map[string]any{"sub": "apple-sub-9", "email": "a@example.com"})
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "id_token": idt})
	}))
	defer srv.Close()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	d := Apple()
	d.TokenEndpoint = srv.URL
	e := NewExchanger(d, Credentials{
		ClientID:   "com.example.card",
		TeamID:     "TEAM123",
		KeyID:      "KEY456",
		PrivateKey: key,
	})

	tr, err := e.ExchangeCode(context.Background(), "abc", "https://example.com/auth")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if assertionSeen == "" {
		t.Fatalf("apple exchange must carry a client assertion")
	}
	id, err := e.Identity(context.Background(), tr, "")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.ProviderUserID != "apple-sub-9" || id.Email != "a@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestIdentityFallsBackToCallbackIDToken(t *testing.T) {
	d := Apple()
	e := NewExchanger(d, Credentials{ClientID: "c"})
	idt := unsignedIDToken(t, map[string]any{"sub": "s1"})
	id, err := e.Identity(context.Background(), &TokenResponse{}, idt)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.ProviderUserID != "s1" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	if _, err := e.Identity(context.Background(), &TokenResponse{}, ""); err == nil {
		t.Fatalf("no id_token anywhere must fail")
	}
}

func TestDecodeIDTokenUnsafeRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "abc", "a.!!.c", "a." + base64.RawURLEncoding.EncodeToString([]byte("not-json")) + ".c"} {
		if _, err := DecodeIDTokenUnsafe(bad); err == nil {
			t.Fatalf("DecodeIDTokenUnsafe(%q) must fail", bad)
		}
	}
	noSub := unsignedIDToken(t, map[string]any{"email": "x@example.com"})
	if _, err := DecodeIDTokenUnsafe(noSub); err == nil {
		t.Fatalf("id_token without sub must fail")
	}
}

func TestDescriptors(t *testing.T) {
	for _, d := range All() {
		if _, ok := ByName(d.Name); !ok {
			t.Fatalf("ByName(%s) not found", d.Name)
		}
		if d.TokenEndpoint == "" || d.AuthEndpoint == "" {
			t.Fatalf("%s: missing endpoints", d.Name)
		}
		if d.Source == SourceProfile && d.ProfileEndpoint == "" {
			t.Fatalf("%s: profile source without endpoint", d.Name)
		}
	}
	if _, ok := ByName(identity.Provider("github")); ok {
		t.Fatalf("unknown provider must not resolve")
	}

	// Exactly one provider relies on a response-mode signal instead of a
	// state prefix.
	noPrefix := 0
	for _, d := range All() {
		if d.StatePrefix == "" {
			noPrefix++
		}
	}
	if noPrefix != 1 {
		t.Fatalf("want exactly one prefix-less provider, got %d", noPrefix)
	}
}
