// Package provider implements the exchange adapters that turn a provider
// authorization code into a stable provider user id and profile fields.
// One generic adapter, parameterized by a per-provider Descriptor, covers
// LINE, Google and Apple; the three differ only in endpoints, scopes, how
// identity is obtained, and whether a client assertion replaces the secret.
package provider

import (
	"github.com/uvaco/cardauth/internal/identity"
)

// IdentitySource says where the provider-stable identity comes from after
// the code exchange.
type IdentitySource int

const (
	// SourceProfile calls a profile endpoint with the new access token.
	SourceProfile IdentitySource = iota
	// SourceIDToken decodes the id_token returned by the token endpoint.
	SourceIDToken
)

// Descriptor is the static per-provider configuration.
type Descriptor struct {
	Name identity.Provider

	AuthEndpoint    string
	TokenEndpoint   string
	ProfileEndpoint string // empty when Source == SourceIDToken
	JWKSEndpoint    string // set when id_token verification is enabled
	Issuers         []string

	Scopes       []string
	ResponseType string
	ResponseMode string            // "" unless the provider mandates one
	AuthExtras   map[string]string // extra authorize-URL parameters

	// StatePrefix discriminates this provider's callback on a shared
	// redirect URI. Empty means the provider is recognized by having no
	// known prefix (LINE, the first provider wired, predates the scheme).
	StatePrefix string

	Source IdentitySource

	// RequiresAssertion: the token endpoint wants a generated ES256 client
	// assertion instead of a static client secret.
	RequiresAssertion bool

	// NumericClientID: the client id must be all digits; anything else is a
	// misconfiguration worth rejecting before redirecting a user upstream.
	NumericClientID bool
}

// LINE is the LINE Login v2.1 descriptor.
func LINE() Descriptor {
	return Descriptor{
		Name:            identity.ProviderLINE,
		AuthEndpoint:    "https://access.line.me/oauth2/v2.1/authorize",
		TokenEndpoint:   "https://api.line.me/oauth2/v2.1/token",
		ProfileEndpoint: "https://api.line.me/v2/profile",
		Scopes:          []string{"profile", "openid"},
		ResponseType:    "code",
		Source:          SourceProfile,
		NumericClientID: true,
	}
}

// Google is the Google OAuth2 descriptor.
func Google() Descriptor {
	return Descriptor{
		Name:            identity.ProviderGoogle,
		AuthEndpoint:    "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:   "https://oauth2.googleapis.com/token",
		ProfileEndpoint: "https://www.googleapis.com/oauth2/v2/userinfo",
		JWKSEndpoint:    "https://www.googleapis.com/oauth2/v3/certs",
		Issuers:         []string{"https://accounts.google.com", "accounts.google.com"},
		Scopes:          []string{"openid", "email", "profile"},
		ResponseType:    "code",
		AuthExtras: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		StatePrefix: "google_",
		Source:      SourceProfile,
	}
}

// Apple is the Sign in with Apple descriptor. Identity arrives inline in
// the id_token; Apple has no profile endpoint to call.
func Apple() Descriptor {
	return Descriptor{
		Name:          identity.ProviderApple,
		AuthEndpoint:  "https://appleid.apple.com/auth/authorize",
		TokenEndpoint: "https://appleid.apple.com/auth/token",
		JWKSEndpoint:  "https://appleid.apple.com/auth/keys",
		Issuers:       []string{"https://appleid.apple.com"},
		Scopes:        []string{"name", "email"},
		ResponseType:  "code id_token",
		ResponseMode:  "form_post",
		StatePrefix:   "apple_",
		Source:        SourceIDToken,

		RequiresAssertion: true,
	}
}

// ByName returns the descriptor for a provider.
func ByName(p identity.Provider) (Descriptor, bool) {
	switch p {
	case identity.ProviderLINE:
		return LINE(), true
	case identity.ProviderGoogle:
		return Google(), true
	case identity.ProviderApple:
		return Apple(), true
	}
	return Descriptor{}, false
}

// All returns every supported descriptor.
func All() []Descriptor {
	return []Descriptor{LINE(), Google(), Apple()}
}
