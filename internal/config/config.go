package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port     string `env:"PORT,     default=8080"`
	Env      string `env:"ENV,      default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	DatabaseURL string `env:"DATABASE_URL, default=file:crm.db"`
	RedisAddr   string `env:"REDIS_ADDR"`

	JWTIssuer        string        `env:"JWT_ISSUER,   default=crm-service"`
	JWTAudience      string        `env:"JWT_AUDIENCE, default=crm-clients"`
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL, default=15m"`
	SessionTTL       time.Duration `env:"SESSION_TTL,      default=168h"`

	APIKey string `env:"PHD_API_KEY"`

	GeneralRateLimit  int           `env:"RATE_LIMIT_GENERAL,        default=100"`
	AuthRateLimit     int           `env:"RATE_LIMIT_AUTH,           default=5"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,         default=15m"`
	SessionSweepEvery time.Duration `env:"SESSION_SWEEP_INTERVAL,    default=1h"`

	CORSOrigins []string `env:"CORS_ORIGINS, default=http://localhost:3000"`

	OTELMetricsEnabled       bool   `env:"OTEL_METRICS_ENABLED, default=false"`
	OTELExporterOTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT, default=localhost:4317"`
	OTELExporterOTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE, default=true"`
	OTELServiceName          string `env:"OTEL_SERVICE_NAME, default=crm-service"`
	OTELEnvironment          string `env:"OTEL_ENVIRONMENT,  default=development"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=15s"`
}

// Load reads configuration from the environment and validates it.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		recordConfigLoadEvent(ctx, cfg.Env, "error", classifyConfigLoadError(err))
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		recordConfigLoadEvent(ctx, cfg.Env, "error", "validation")
		return nil, fmt.Errorf("validate config: %w", err)
	}
	recordConfigLoadEvent(ctx, cfg.Env, "success", "none")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be at least 32 characters"))
	}
	if len(c.JWTRefreshSecret) < 32 {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET must be at least 32 characters"))
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("PHD_API_KEY is required"))
	}
	if c.GeneralRateLimit <= 0 || c.AuthRateLimit <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.AccessTokenTTL <= 0 || c.SessionTTL <= 0 {
		errs = append(errs, errors.New("token and session TTLs must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
