package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/uvaco/cardauth/internal/backend"
	"github.com/uvaco/cardauth/internal/cache"
	cachememory "github.com/uvaco/cardauth/internal/cache/memory"
	cacheredis "github.com/uvaco/cardauth/internal/cache/redis"
	"github.com/uvaco/cardauth/internal/config"
	apphttp "github.com/uvaco/cardauth/internal/http"
	"github.com/uvaco/cardauth/internal/http/controllers/exchange"
	"github.com/uvaco/cardauth/internal/http/router"
	"github.com/uvaco/cardauth/internal/identity"
	identmemory "github.com/uvaco/cardauth/internal/identity/memory"
	identpg "github.com/uvaco/cardauth/internal/identity/pg"
	identrest "github.com/uvaco/cardauth/internal/identity/rest"
	"github.com/uvaco/cardauth/internal/metrics"
	"github.com/uvaco/cardauth/internal/observability/logger"
	"github.com/uvaco/cardauth/internal/provider"
	"github.com/uvaco/cardauth/internal/rate"
	"github.com/uvaco/cardauth/internal/session"
	"github.com/uvaco/cardauth/internal/token"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cardauth:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is a development convenience; production uses real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "cardauth",
		Version:     cfg.Server.Build,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	c, err := buildCache(cfg)
	if err != nil {
		return err
	}

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	store = identity.WithCache(store, c)

	providers, err := buildProviders(cfg, c)
	if err != nil {
		return err
	}
	for p := range providers {
		log.Info("provider configured", logger.Provider(string(p)))
	}

	ctrl := exchange.NewController(
		providers,
		identity.NewService(store),
		session.NewIssuer(cfg.Backend.JWTSecret),
		cfg.Server.Build,
	)

	handler := router.New(ctrl, router.Options{
		Build:       cfg.Server.Build,
		APIKey:      cfg.Backend.AnonKey,
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
		Limiter:     buildLimiter(cfg),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", logger.String("addr", cfg.Server.Addr))
		return apphttp.NewServer(cfg.Server.Addr, handler).Run(ctx)
	})
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			log.Info("metrics listening", logger.String("addr", cfg.Server.MetricsAddr))
			return apphttp.NewServer(cfg.Server.MetricsAddr, mux).Run(ctx)
		})
	}
	return g.Wait()
}

func buildCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Kind {
	case "redis":
		return cacheredis.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix), nil
	default:
		ttl, err := time.ParseDuration(cfg.Cache.Memory.DefaultTTL)
		if err != nil {
			return nil, fmt.Errorf("cache ttl: %w", err)
		}
		return cachememory.New(ttl), nil
	}
}

func buildStore(cfg *config.Config) (identity.Store, func(), error) {
	switch cfg.Store.Kind {
	case "memory":
		return identmemory.New(), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return identpg.New(pool), pool.Close, nil
	default: // rest
		cl := backend.NewServiceRole(cfg.Backend.URL, cfg.Backend.ServiceKey)
		return identrest.New(cl), func() {}, nil
	}
}

func buildLimiter(cfg *config.Config) rate.Limiter {
	if !cfg.Rate.Enabled {
		return nil
	}
	window, _ := time.ParseDuration(cfg.Rate.Exchange.Window)
	if cfg.Cache.Kind == "redis" {
		c := cacheredis.New(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
		return rate.NewRedisLimiter(c.Client(), cfg.Cache.Redis.Prefix+"rl:", cfg.Rate.Exchange.Limit, window)
	}
	return rate.NewMemoryLimiter(cfg.Rate.Exchange.Limit, window)
}

// backendSecrets are the cross-provider requirements every exchange checks
// before calling upstream. The service key backs the REST identity store
// only; pg and memory deployments run without one.
func backendSecrets(cfg *config.Config) map[string]string {
	s := map[string]string{
		"BACKEND_JWT_SECRET": cfg.Backend.JWTSecret,
	}
	switch cfg.Store.Kind {
	case "memory", "postgres":
	default: // rest
		s["BACKEND_SERVICE_KEY"] = cfg.Backend.ServiceKey
	}
	return s
}

func buildProviders(cfg *config.Config, c cache.Cache) (map[identity.Provider]*exchange.ProviderRuntime, error) {
	out := map[identity.Provider]*exchange.ProviderRuntime{}

	secretsWith := func(own map[string]string) map[string]string {
		for k, v := range backendSecrets(cfg) {
			own[k] = v
		}
		return own
	}

	addVerifier := func(desc provider.Descriptor, opts []provider.Option) ([]provider.Option, error) {
		if !cfg.Providers.VerifyIDTokens || desc.JWKSEndpoint == "" {
			return opts, nil
		}
		v, err := provider.NewIDTokenVerifier(desc, c)
		if err != nil {
			return nil, err
		}
		return append(opts, provider.WithIDTokenVerifier(v)), nil
	}

	if cfg.Providers.LINE.Enabled {
		out[identity.ProviderLINE] = &exchange.ProviderRuntime{
			Exchanger: provider.NewExchanger(provider.LINE(), provider.Credentials{
				ClientID:     cfg.Providers.LINE.ClientID,
				ClientSecret: cfg.Providers.LINE.ClientSecret,
			}),
			Secrets: secretsWith(map[string]string{
				"LINE_CHANNEL_ID":     cfg.Providers.LINE.ClientID,
				"LINE_CHANNEL_SECRET": cfg.Providers.LINE.ClientSecret,
			}),
		}
	}

	if cfg.Providers.Google.Enabled {
		desc := provider.Google()
		opts, err := addVerifier(desc, nil)
		if err != nil {
			return nil, err
		}
		out[identity.ProviderGoogle] = &exchange.ProviderRuntime{
			Exchanger: provider.NewExchanger(desc, provider.Credentials{
				ClientID:     cfg.Providers.Google.ClientID,
				ClientSecret: cfg.Providers.Google.ClientSecret,
			}, opts...),
			Secrets: secretsWith(map[string]string{
				"GOOGLE_CLIENT_ID":     cfg.Providers.Google.ClientID,
				"GOOGLE_CLIENT_SECRET": cfg.Providers.Google.ClientSecret,
			}),
		}
	}

	if cfg.Providers.Apple.Enabled {
		var key *ecdsa.PrivateKey
		if pemText := cfg.Providers.Apple.PrivateKey; pemText != "" {
			k, err := token.ParseECPrivateKey(pemText)
			if err != nil {
				return nil, fmt.Errorf("apple private key: %w", err)
			}
			key = k
		}
		desc := provider.Apple()
		opts, err := addVerifier(desc, nil)
		if err != nil {
			return nil, err
		}
		out[identity.ProviderApple] = &exchange.ProviderRuntime{
			Exchanger: provider.NewExchanger(desc, provider.Credentials{
				ClientID:   cfg.Providers.Apple.ClientID,
				TeamID:     cfg.Providers.Apple.TeamID,
				KeyID:      cfg.Providers.Apple.KeyID,
				PrivateKey: key,
			}, opts...),
			Secrets: secretsWith(map[string]string{
				"APPLE_CLIENT_ID":   cfg.Providers.Apple.ClientID,
				"APPLE_TEAM_ID":     cfg.Providers.Apple.TeamID,
				"APPLE_KEY_ID":      cfg.Providers.Apple.KeyID,
				"APPLE_PRIVATE_KEY": cfg.Providers.Apple.PrivateKey,
			}),
		}
	}

	return out, nil
}
