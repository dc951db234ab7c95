// Command server starts the fila-live room service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fila-live/internal/identity"
	"fila-live/internal/observability/logging"
	"fila-live/internal/observability/metrics"
	"fila-live/internal/room"
	"fila-live/internal/server"
	"fila-live/internal/storage"
)

func main() {
	// A .env in the working directory seeds the environment for local
	// development; real deployments set variables directly.
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	recorder := metrics.Default()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open room store", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}

	if cfg.IdentitySecret == "" {
		logger.Warn("no identity secret configured, all connections are anonymous")
	}

	hub := room.NewHub(room.HubConfig{
		Store:     store,
		Verifier:  identity.NewHMACVerifier(cfg.IdentitySecret),
		Logger:    logger,
		Recorder:  recorder,
		Heartbeat: cfg.Heartbeat,
	})

	srv, err := server.New(hub, server.Config{
		Addr: cfg.Addr,
		TLS:  server.TLSConfig{CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     cfg.GlobalRPS,
			GlobalBurst:   cfg.GlobalBurst,
			ConnectLimit:  cfg.ConnectLimit,
			ConnectWindow: cfg.ConnectWindow,
			RedisAddr:     cfg.RateRedisAddr,
			RedisPassword: cfg.RateRedisPassword,
			RedisTimeout:  cfg.RateRedisTimeout,
		},
		CORS:    server.CORSConfig{AllowedOrigins: cfg.AllowedOrigins},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("fila-live listening", "addr", cfg.Addr, "storage", cfg.StorageDriver)
	if cfg.TLSCert != "" {
		logger.Info("TLS enabled", "cert_file", cfg.TLSCert)
	}

	if err := srv.Run(ctx, nil); err != nil {
		logger.Error("server error", "error", err)
	}

	if closeStore != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := closeStore(closeCtx); err != nil {
			logger.Warn("failed to close room store", "error", err)
		}
	}

	logger.Info("server stopped")
}

func openStore(cfg config) (storage.RoomStore, func(context.Context) error, error) {
	switch cfg.StorageDriver {
	case "memory":
		return storage.NewMemoryStore(), nil, nil
	case "json":
		store, err := storage.NewJSONStore(cfg.DataPath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "redis":
		store, err := storage.NewRedisStore(storage.RedisConfig{
			Addr:      cfg.RedisAddr,
			Addrs:     cfg.RedisAddrs,
			Username:  cfg.RedisUsername,
			Password:  cfg.RedisPassword,
			KeyPrefix: cfg.RedisKeyPrefix,
			TLS: storage.RedisTLSConfig{
				CAFile:   cfg.RedisTLSCA,
				CertFile: cfg.RedisTLSCert,
				KeyFile:  cfg.RedisTLSKey,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil
	case "postgres":
		store, err := storage.NewPostgresStore(context.Background(), storage.PostgresConfig{
			DSN:             cfg.PostgresDSN,
			MaxConns:        int32(cfg.PostgresMaxConns),
			MinConns:        int32(cfg.PostgresMinConns),
			AcquireTimeout:  cfg.PostgresAcquireTimeout,
			ApplicationName: "fila-live",
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}
