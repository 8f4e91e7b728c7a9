package main

import (
	"testing"

	"github.com/uvaco/cardauth/internal/config"
	"github.com/uvaco/cardauth/internal/identity"
)

func lineConfig(storeKind string) *config.Config {
	cfg := &config.Config{}
	cfg.Store.Kind = storeKind
	cfg.Backend.JWTSecret = "jwt-secret"
	cfg.Providers.LINE.Enabled = true
	cfg.Providers.LINE.ClientID = "1234567890"
	cfg.Providers.LINE.ClientSecret = "cs"
	return cfg
}

func TestBuildProvidersPostgresStoreNeedsNoServiceKey(t *testing.T) {
	providers, err := buildProviders(lineConfig("postgres"), nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	rt := providers[identity.ProviderLINE]
	if rt == nil {
		t.Fatalf("line must be configured")
	}
	if _, ok := rt.Secrets["BACKEND_SERVICE_KEY"]; ok {
		t.Fatalf("pg store must not require the service key: %v", rt.Secrets)
	}
	if rt.Secrets["BACKEND_JWT_SECRET"] != "jwt-secret" {
		t.Fatalf("jwt secret must stay required: %v", rt.Secrets)
	}
}

func TestBuildProvidersRestStoreRequiresServiceKey(t *testing.T) {
	cfg := lineConfig("rest")
	cfg.Backend.ServiceKey = "service-key"
	providers, err := buildProviders(cfg, nil)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	rt := providers[identity.ProviderLINE]
	if rt.Secrets["BACKEND_SERVICE_KEY"] != "service-key" {
		t.Fatalf("rest store must carry the service key: %v", rt.Secrets)
	}
}
