package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return p
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	p := writeYAML(t, `
server:
  addr: ":9090"
backend:
  url: https://backend.example
  jwt_secret: " 'quoted-secret' "
providers:
  line:
    enabled: true
    client_id: "1234567890"
    client_secret: cs
`)
	t.Setenv("BUILD_ID", "build-7")
	t.Setenv("GOOGLE_CLIENT_ID", "g-id")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr: %q", cfg.Server.Addr)
	}
	if cfg.Server.Build != "build-7" {
		t.Fatalf("env must override build: %q", cfg.Server.Build)
	}
	if cfg.Store.Kind != "rest" || cfg.Cache.Kind != "memory" {
		t.Fatalf("defaults: store=%q cache=%q", cfg.Store.Kind, cfg.Cache.Kind)
	}
	if cfg.Backend.JWTSecret != "quoted-secret" {
		t.Fatalf("secret must be normalized: %q", cfg.Backend.JWTSecret)
	}
	if !cfg.Providers.LINE.Enabled || cfg.Providers.LINE.ClientID != "1234567890" {
		t.Fatalf("line provider: %+v", cfg.Providers.LINE)
	}
	if !cfg.Providers.Google.Enabled || cfg.Providers.Google.ClientID != "g-id" {
		t.Fatalf("env must enable google: %+v", cfg.Providers.Google)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"unknown store":          "store:\n  kind: dynamo\n",
		"rest needs backend url": "store:\n  kind: rest\n",
		"postgres needs dsn":     "backend:\n  url: https://b\nstore:\n  kind: postgres\n",
		"redis needs addr":       "backend:\n  url: https://b\ncache:\n  kind: redis\n",
		"bad window":             "backend:\n  url: https://b\nrate:\n  exchange:\n    window: soon\n",
	}
	for name, yaml := range cases {
		if _, err := Load(writeYAML(t, yaml)); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}
