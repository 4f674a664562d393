package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"smartpos/internal/cache"
	"smartpos/internal/config"
	"smartpos/internal/domain"
	"smartpos/internal/httpapi"
	"smartpos/internal/imagestore"
	"smartpos/internal/logging"
	"smartpos/internal/metrics"
	"smartpos/internal/receipt"
	"smartpos/internal/service"
	"smartpos/internal/store"
	"smartpos/internal/store/memory"
	pgstore "smartpos/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Options{ServiceName: "smartpos"})
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(logging.Options{
		ServiceName: "smartpos",
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(logging.Into(context.Background(), logger), 15*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("repository unavailable")
	}

	statsCache := cache.StatsCache(cache.NoopStatsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, dashboard stats are not cached")
			_ = redisCache.Close()
		} else {
			statsCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		logger.Info().Msg("cache: noop")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	posMetrics := metrics.NewPOSMetrics(registry)

	images, err := imagestore.New(cfg.StockImageDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("stock image directory unavailable")
	}
	logger.Info().Str("dir", images.Dir()).Msg("stock images: local directory")

	svc := service.New(repo,
		service.WithImageStore(images),
		service.WithStatsCache(statsCache, cfg.StatsCacheTTL()),
		service.WithMetrics(posMetrics),
		service.WithReceiptHeader(receipt.Header{
			StoreName: cfg.ReceiptStoreName,
			Address:   cfg.ReceiptStoreAddress,
			Phone:     cfg.ReceiptStorePhone,
		}),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	if cfg.BootstrapManagerUser != "" {
		created, err := auth.EnsureUser(ctx, cfg.BootstrapManagerUser, cfg.BootstrapManagerPass, domain.RoleManager)
		if err != nil {
			logger.Fatal().Err(err).Msg("bootstrap manager account")
		}
		if created {
			logger.Info().Str("username", cfg.BootstrapManagerUser).Msg("bootstrap manager account created")
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(posMetrics, registry),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// openRepository picks Postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. A configured but unreachable database is an
// error, never a silent fallback.
func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info().Bool("auto_migrate", cfg.AutoMigrate).Msg("repository: postgres")
	return pg, []func() error{pg.Close}, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapManagerUser != "" {
		if err := validatePasswordStrength(cfg.BootstrapManagerPass); err != nil {
			return fmt.Errorf("BOOTSTRAP_MANAGER_PASSWORD is too weak: %w", err)
		}
	}
	return nil
}

// validatePasswordStrength rejects short passwords, single repeated
// characters and a list of well-known defaults.
func validatePasswordStrength(password string) error {
	if len(password) < 10 {
		return fmt.Errorf("at least 10 characters required")
	}
	known := map[string]bool{
		"manager123": true, "staff12345": true, "password123": true,
		"1234567890": true, "qwertyuiop": true, "changeme123": true,
	}
	if known[strings.ToLower(password)] {
		return fmt.Errorf("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}
	return nil
}
