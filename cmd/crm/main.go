package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/phd-crm/crm-service/internal/app"
	"github.com/phd-crm/crm-service/internal/config"
	"github.com/phd-crm/crm-service/internal/domain"
	"github.com/phd-crm/crm-service/internal/http/handler"
	"github.com/phd-crm/crm-service/internal/http/middleware"
	"github.com/phd-crm/crm-service/internal/http/router"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/repository"
	"github.com/phd-crm/crm-service/internal/security"
	"github.com/phd-crm/crm-service/internal/service"
	"github.com/phd-crm/crm-service/internal/tools/common"
)

func main() {
	root := &cobra.Command{
		Use:   "crm",
		Short: "CRM backend service",
	}
	root.AddCommand(newServeCommand())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}
			return serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional env file, existing variables win")
	return cmd
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.Lead{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	leads := repository.NewLeadRepository(db)
	auth := service.NewAuthService(users, sessions, jwtMgr, cfg.AccessTokenTTL, cfg.SessionTTL)
	audit := security.NewAuditLog(security.DefaultAuditLogCapacity)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	general, authTier := buildLimiters(cfg, logger, redisClient)

	var deadTokens service.DeadTokenCache = service.NewInMemoryDeadTokenCache()
	if redisClient != nil {
		deadTokens = service.NewRedisDeadTokenCache(redisClient, "")
	}
	resolver := service.NewCachedSessionResolver(sessions, deadTokens)

	dev := cfg.IsDevelopment()
	h := router.New(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(auth, dev),
		LeadHandler:        handler.NewLeadHandler(leads, dev),
		SecurityLogHandler: handler.NewSecurityLogHandler(audit),
		IntegrationHandler: handler.NewIntegrationHandler(leads, dev),
		JWTManager:         jwtMgr,
		Sessions:           resolver,
		AuditLog:           audit,
		APIKey:             cfg.APIKey,
		GeneralLimiter:     general,
		AuthLimiter:        authTier,
		CORSOrigins:        cfg.CORSOrigins,
		Development:        dev,
		DB:                 db,
		EnableOTelHTTP:     cfg.OTELMetricsEnabled,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app.New(cfg, logger, server, sessions, runtime).Run(ctx)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(cfg.DatabaseURL), &gorm.Config{})
}

// buildLimiters picks redis-backed sliding windows when a redis client is
// available so limits hold across replicas, and in-process windows otherwise.
func buildLimiters(cfg *config.Config, logger *slog.Logger, client *redis.Client) (*middleware.RateLimiter, *middleware.RateLimiter) {
	var generalBackend, authBackend middleware.Limiter
	if client != nil {
		generalBackend = middleware.NewRedisSlidingWindowLimiter(client, "general", cfg.GeneralRateLimit, cfg.RateLimitWindow)
		authBackend = middleware.NewRedisSlidingWindowLimiter(client, "auth", cfg.AuthRateLimit, cfg.RateLimitWindow)
		logger.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	} else {
		generalBackend = middleware.NewLocalSlidingWindowLimiter(cfg.GeneralRateLimit, cfg.RateLimitWindow)
		authBackend = middleware.NewLocalSlidingWindowLimiter(cfg.AuthRateLimit, cfg.RateLimitWindow)
		logger.Info("rate limiting in-process")
	}

	general := middleware.NewRateLimiter(generalBackend, "general", middleware.FailOpen)
	authTier := middleware.NewRateLimiter(authBackend, "auth", middleware.FailClosed).WithSkipSuccessful()
	return general, authTier
}
