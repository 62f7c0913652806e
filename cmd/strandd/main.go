// Command strandd runs the identity provider as an HTTP daemon: it loads
// configuration, selects a storage backend, seeds the configured clients,
// and serves the OAuth endpoints until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strandauth/strand"
	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/instrumentation"
	"github.com/strandauth/strand/security"
	"github.com/strandauth/strand/server"
	"github.com/strandauth/strand/storage/memory"
	redisstore "github.com/strandauth/strand/storage/redis"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("strandd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Instrumentation.ServiceName,
		ServiceVersion: cfg.Instrumentation.ServiceVersion,
		Enabled:        cfg.Instrumentation.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger, inst)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := strand.New(store, []byte(cfg.Secret), &server.Config{
		Issuer:               cfg.Issuer,
		AuthorizationCodeTTL: cfg.Tokens.AuthorizationCodeTTL,
		AccessTokenTTL:       cfg.Tokens.AccessTokenTTL,
		RefreshTokenTTL:      cfg.Tokens.RefreshTokenTTL,
		ClockSkewGracePeriod: cfg.Tokens.ClockSkewGrace,
		RotateRefreshTokens:  cfg.Security.RotateRefreshTokens,
		RequirePKCE:          cfg.Security.RequirePKCE,
		AllowPKCEPlain:       cfg.Security.AllowPKCEPlain,
		AllowPKCENone:        cfg.Security.AllowPKCENone,
		PromptRateLimit:      cfg.Security.PromptRateLimit,
		PromptRateBurst:      cfg.Security.PromptRateBurst,
		TrustProxy:           cfg.Security.TrustProxy,
		TrustedProxyCount:    cfg.Security.TrustedProxyCount,
	}, logger)
	if err != nil {
		return err
	}

	provider.Server.SetAuditor(security.NewAuditor(logger, true))
	provider.Server.SetInstrumentation(inst)
	provider.Handler.SetInstrumentation(inst)

	rateLimiter := security.NewRateLimiter(
		provider.Server.Config.PromptRateLimit,
		provider.Server.Config.PromptRateBurst,
		logger)
	defer rateLimiter.Stop()
	provider.Server.SetRateLimiter(rateLimiter)

	if err := seedClients(ctx, store, cfg.Clients, logger); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           provider.Handler.Routes(),
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadHeaderTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTP.IdleTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("strandd listening",
			"addr", cfg.Listen,
			"issuer", cfg.Issuer,
			"storage", cfg.Storage.Backend)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.HTTP.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown did not complete cleanly: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore builds the configured storage backend and a cleanup function.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (strand.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "redis":
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:      cfg.Storage.Redis.Addr,
			Username:  cfg.Storage.Redis.Username,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.Redis.EncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.Storage.Redis.EncryptionKey)
			if err != nil {
				_ = store.Close()
				return nil, nil, fmt.Errorf("invalid storage encryption key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				_ = store.Close()
				return nil, nil, fmt.Errorf("failed to initialize storage encryption: %w", err)
			}
			store.SetEncryptor(enc)
		}
		store.SetInstrumentation(inst.Metrics())
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close redis store", "error", err)
			}
		}, nil

	case "memory":
		store := memory.New()
		store.SetLogger(logger)
		return store, store.Stop, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// seedClients registers the configured clients. Seeding is idempotent:
// clients are immutable, so re-saving an identical registration is harmless.
func seedClients(ctx context.Context, store strand.Store, seeds []ClientSeed, logger *slog.Logger) error {
	for _, seed := range seeds {
		scope, err := domain.ParseScopes(seed.Scope)
		if err != nil {
			return fmt.Errorf("client %s: invalid scope: %w", seed.ID, err)
		}
		client, err := domain.NewClient(seed.ID, seed.Name, scope, seed.RedirectURI)
		if err != nil {
			return fmt.Errorf("client %s: %w", seed.ID, err)
		}
		if err := store.SaveClient(ctx, client); err != nil {
			return fmt.Errorf("client %s: %w", seed.ID, err)
		}
		logger.Info("client seeded", "client_id", seed.ID, "scope", scope.String())
	}
	if len(seeds) == 0 {
		logger.Warn("no clients configured; authorization requests will fail until a client is seeded")
	}
	return nil
}
