package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uvaco/cardauth/internal/backend"
	"github.com/uvaco/cardauth/internal/client"
	"github.com/uvaco/cardauth/internal/http/controllers/exchange"
	"github.com/uvaco/cardauth/internal/http/router"
	"github.com/uvaco/cardauth/internal/identity"
	identmemory "github.com/uvaco/cardauth/internal/identity/memory"
	"github.com/uvaco/cardauth/internal/provider"
	"github.com/uvaco/cardauth/internal/session"
	"github.com/uvaco/cardauth/internal/token"
)

// Full round trip through the real stack: the browser-side flow hits a
// server built from the production router, which exchanges the code
// against a fake provider, links the identity and signs a session token.
func TestLoginRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/v2.1/token":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "good-code", r.PostForm.Get("code"))
			require.Equal(t, "1650000000", r.PostForm.Get("client_id"))
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "upstream-at",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "/v2/profile":
			require.Equal(t, "Bearer upstream-at", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{
				"userId":      "U4af4980629",
				"displayName": "Aya",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	desc := provider.LINE()
	desc.TokenEndpoint = upstream.URL + "/oauth2/v2.1/token"
	desc.ProfileEndpoint = upstream.URL + "/v2/profile"

	const (
		jwtSecret = "e2e-jwt-secret"
		anonKey   = "e2e-anon-key"
	)
	ex := provider.NewExchanger(desc, provider.Credentials{
		ClientID:     "1650000000",
		ClientSecret: "channel-secret",
	})
	ctrl := exchange.NewController(map[identity.Provider]*exchange.ProviderRuntime{
		identity.ProviderLINE: {
			Exchanger: ex,
			Secrets: map[string]string{
				"LINE_CHANNEL_ID":     "1650000000",
				"LINE_CHANNEL_SECRET": "channel-secret",
			},
		},
	}, identity.NewService(identmemory.New()), session.NewIssuer(jwtSecret), "e2e")

	srv := httptest.NewServer(router.New(ctrl, router.Options{Build: "e2e", APIKey: anonKey}))
	defer srv.Close()

	store := client.Tiers{Durable: client.NewMemoryStorage(), Session: client.NewMemoryStorage()}
	nav := &client.RecordingNavigator{}
	flow := client.NewFlow(desc, client.FlowConfig{
		ClientID:    "1650000000",
		RedirectURI: "https://cards.example.com/auth/callback",
		ExchangeURL: srv.URL + "/v1/auth/line/exchange",
		APIKey:      anonKey,
	}, store, nav)

	require.True(t, flow.BeginLogin("/cards/7"))
	require.Len(t, nav.Redirects, 1)
	authorize, err := url.Parse(nav.Redirects[0])
	require.NoError(t, err)
	state := authorize.Query().Get("state")
	require.NotEmpty(t, state)

	// The provider redirects back with the code and the echoed state.
	out := flow.CompleteLogin(context.Background(), "https://cards.example.com/auth/callback?code=good-code&state="+state)
	require.True(t, out.Handled)
	require.True(t, out.OK, "flow error: %+v", out.Err)
	require.Equal(t, "/cards/7", nav.Last())

	tok, err := store.Durable.Get(client.TokenKey)
	require.NoError(t, err)
	require.True(t, token.VerifyHS256(tok, jwtSecret))
	require.False(t, token.IsExpired(tok))

	// The stored token drives resolution without any further server call.
	resolver := client.NewResolver(backend.New(srv.URL, anonKey), nil, store.Durable, nil)
	ac, reason := resolver.Resolve(context.Background())
	require.Empty(t, reason)
	require.Equal(t, client.ModeCustom, ac.Mode)
	require.Equal(t, token.DecodeSubjectUnsafe(tok), ac.UserID)
}

func TestDiagRoundTrip(t *testing.T) {
	desc := provider.LINE()
	ctrl := exchange.NewController(map[identity.Provider]*exchange.ProviderRuntime{
		identity.ProviderLINE: {
			Exchanger: provider.NewExchanger(desc, provider.Credentials{ClientID: "1650000000"}),
			Secrets: map[string]string{
				"LINE_CHANNEL_ID":     "1650000000",
				"LINE_CHANNEL_SECRET": "",
			},
		},
	}, identity.NewService(identmemory.New()), session.NewIssuer("s"), "build-42")

	srv := httptest.NewServer(router.New(ctrl, router.Options{Build: "build-42", APIKey: "k"}))
	defer srv.Close()

	flow := client.NewFlow(desc, client.FlowConfig{
		ClientID:    "1650000000",
		ExchangeURL: srv.URL + "/v1/auth/line/exchange",
		APIKey:      "k",
	}, client.Tiers{}, &client.RecordingNavigator{})

	d, err := flow.Diag(context.Background())
	require.NoError(t, err)
	require.False(t, d.OK)
	require.Equal(t, "build-42", d.Build)
	require.True(t, d.Has["LINE_CHANNEL_ID"])
	require.False(t, d.Has["LINE_CHANNEL_SECRET"])
	require.Equal(t, 10, d.Len["LINE_CHANNEL_ID"])
}
