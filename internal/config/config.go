package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uvaco/cardauth/internal/util"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		MetricsAddr        string   `yaml:"metrics_addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		// Build is the deployment build id echoed by diagnostics.
		Build string `yaml:"build"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	// Backend is the managed backend-as-a-service this deployment fronts.
	Backend struct {
		URL        string `yaml:"url"`
		AnonKey    string `yaml:"anon_key"`
		ServiceKey string `yaml:"service_key"`
		// JWTSecret signs issued session tokens; it must match the
		// backend's verification secret.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"backend"`

	Store struct {
		// memory | postgres | rest
		Kind     string `yaml:"kind"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Cache struct {
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Rate struct {
		Enabled  bool `yaml:"enabled"`
		Exchange struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"exchange"`
	} `yaml:"rate"`

	Providers struct {
		// VerifyIDTokens switches inline identity tokens from unverified
		// decode to JWKS signature/issuer/audience verification.
		VerifyIDTokens bool `yaml:"verify_id_tokens"`

		LINE struct {
			Enabled      bool   `yaml:"enabled"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
		} `yaml:"line"`

		Google struct {
			Enabled      bool   `yaml:"enabled"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
		} `yaml:"google"`

		Apple struct {
			Enabled    bool   `yaml:"enabled"`
			ClientID   string `yaml:"client_id"` // the Services ID
			TeamID     string `yaml:"team_id"`
			KeyID      string `yaml:"key_id"`
			PrivateKey string `yaml:"private_key"` // PEM, possibly flattened
		} `yaml:"apple"`
	} `yaml:"providers"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Build == "" {
		c.Server.Build = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Kind == "" {
		c.Store.Kind = "rest"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Rate.Exchange.Limit == 0 {
		c.Rate.Exchange.Limit = 20
	}
	if c.Rate.Exchange.Window == "" {
		c.Rate.Exchange.Window = "1m"
	}

	c.applyEnvOverrides()
	c.normalizeSecrets()

	// validate string durations
	if _, err := time.ParseDuration(c.Cache.Memory.DefaultTTL); err != nil {
		return nil, fmt.Errorf("config: cache.memory.default_ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Rate.Exchange.Window); err != nil {
		return nil, fmt.Errorf("config: rate.exchange.window: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations that can only fail at request time.
// Per-provider secret material is checked lazily by the exchange handler
// so a deployment can run with a subset of providers configured.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case "memory", "postgres", "rest":
	default:
		return fmt.Errorf("config: unknown store.kind %q", c.Store.Kind)
	}
	if c.Store.Kind == "postgres" && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("config: store.kind postgres requires store.postgres.dsn")
	}
	if c.Store.Kind == "rest" && c.Backend.URL == "" {
		return fmt.Errorf("config: store.kind rest requires backend.url")
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache.kind %q", c.Cache.Kind)
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("config: cache.kind redis requires cache.redis.addr")
	}
	return nil
}

// normalizeSecrets strips the stray whitespace and quoting that creeps in
// when secrets are pasted into env dashboards.
func (c *Config) normalizeSecrets() {
	c.Backend.AnonKey = util.NormalizeSecret(c.Backend.AnonKey)
	c.Backend.ServiceKey = util.NormalizeSecret(c.Backend.ServiceKey)
	c.Backend.JWTSecret = util.NormalizeSecret(c.Backend.JWTSecret)
	c.Providers.LINE.ClientID = util.NormalizeSecret(c.Providers.LINE.ClientID)
	c.Providers.LINE.ClientSecret = util.NormalizeSecret(c.Providers.LINE.ClientSecret)
	c.Providers.Google.ClientID = util.NormalizeSecret(c.Providers.Google.ClientID)
	c.Providers.Google.ClientSecret = util.NormalizeSecret(c.Providers.Google.ClientSecret)
	c.Providers.Apple.ClientID = util.NormalizeSecret(c.Providers.Apple.ClientID)
	c.Providers.Apple.TeamID = util.NormalizeSecret(c.Providers.Apple.TeamID)
	c.Providers.Apple.KeyID = util.NormalizeSecret(c.Providers.Apple.KeyID)
	c.Providers.Apple.PrivateKey = util.NormalizeSecret(c.Providers.Apple.PrivateKey)
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("METRICS_ADDR"); ok {
		c.Server.MetricsAddr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvStr("BUILD_ID"); ok {
		c.Server.Build = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	// BACKEND
	if v, ok := getEnvStr("BACKEND_URL"); ok {
		c.Backend.URL = v
	}
	if v, ok := getEnvStr("BACKEND_ANON_KEY"); ok {
		c.Backend.AnonKey = v
	}
	if v, ok := getEnvStr("BACKEND_SERVICE_KEY"); ok {
		c.Backend.ServiceKey = v
	}
	if v, ok := getEnvStr("BACKEND_JWT_SECRET"); ok {
		c.Backend.JWTSecret = v
	}

	// STORE
	if v, ok := getEnvStr("STORE_KIND"); ok {
		c.Store.Kind = v
	}
	if v, ok := getEnvStr("POSTGRES_DSN"); ok {
		c.Store.Postgres.DSN = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// RATE
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvInt("RATE_EXCHANGE_LIMIT"); ok {
		c.Rate.Exchange.Limit = v
	}
	if v, ok := getEnvStr("RATE_EXCHANGE_WINDOW"); ok {
		c.Rate.Exchange.Window = v
	}

	// PROVIDERS
	if v, ok := getEnvBool("PROVIDERS_VERIFY_ID_TOKENS"); ok {
		c.Providers.VerifyIDTokens = v
	}
	if v, ok := getEnvStr("LINE_CHANNEL_ID"); ok {
		c.Providers.LINE.ClientID = v
		c.Providers.LINE.Enabled = true
	}
	if v, ok := getEnvStr("LINE_CHANNEL_SECRET"); ok {
		c.Providers.LINE.ClientSecret = v
	}
	if v, ok := getEnvStr("GOOGLE_CLIENT_ID"); ok {
		c.Providers.Google.ClientID = v
		c.Providers.Google.Enabled = true
	}
	if v, ok := getEnvStr("GOOGLE_CLIENT_SECRET"); ok {
		c.Providers.Google.ClientSecret = v
	}
	if v, ok := getEnvStr("APPLE_CLIENT_ID"); ok {
		c.Providers.Apple.ClientID = v
		c.Providers.Apple.Enabled = true
	}
	if v, ok := getEnvStr("APPLE_TEAM_ID"); ok {
		c.Providers.Apple.TeamID = v
	}
	if v, ok := getEnvStr("APPLE_KEY_ID"); ok {
		c.Providers.Apple.KeyID = v
	}
	if v, ok := getEnvStr("APPLE_PRIVATE_KEY"); ok {
		c.Providers.Apple.PrivateKey = v
	}
}
