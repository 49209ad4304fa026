package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phd-crm/crm-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	authLoginCounter       metric.Int64Counter
	authRefreshCounter     metric.Int64Counter
	authLogoutCounter      metric.Int64Counter
	tokenValidationCounter metric.Int64Counter
	apiKeyCounter          metric.Int64Counter
	rateLimitCounter       metric.Int64Counter
	repositoryCounter      metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("crm-service")
	m := &AppMetrics{}
	for _, c := range []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.authLoginCounter},
		{"auth.refresh.attempts", &m.authRefreshCounter},
		{"auth.logout.attempts", &m.authLogoutCounter},
		{"auth.token.validations", &m.tokenValidationCounter},
		{"auth.api_key.validations", &m.apiKeyCounter},
		{"ratelimit.decisions", &m.rateLimitCounter},
		{"repository.operations", &m.repositoryCounter},
	} {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAccessTokenValidation notes which stage of the bearer-token pipeline
// settled the request. The client always sees an undistinguished 401; the
// metric keeps the distinction for operators.
func RecordAccessTokenValidation(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenValidationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordAPIKeyValidation(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.apiKeyCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
