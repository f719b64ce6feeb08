package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/einvoice-tools/registry-workbench/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	sessionLoginCounter   metric.Int64Counter
	sessionRefreshCounter metric.Int64Counter
	sessionLogoutCounter  metric.Int64Counter
	sessionExpiredCounter metric.Int64Counter
	sessionWarningCounter metric.Int64Counter
	authorizedReqCounter  metric.Int64Counter
	draftCacheCounter     metric.Int64Counter
	credStoreCounter      metric.Int64Counter
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

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("registry-workbench")
	loginCounter, err := meter.Int64Counter("session.login.attempts")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("session.refresh.attempts")
	if err != nil {
		return nil, err
	}
	logoutCounter, err := meter.Int64Counter("session.logout.attempts")
	if err != nil {
		return nil, err
	}
	expiredCounter, err := meter.Int64Counter("session.expired.events")
	if err != nil {
		return nil, err
	}
	warningCounter, err := meter.Int64Counter("session.warning.events")
	if err != nil {
		return nil, err
	}
	requestCounter, err := meter.Int64Counter("session.authorized_request.outcomes")
	if err != nil {
		return nil, err
	}
	draftCounter, err := meter.Int64Counter("drafts.cache.operations")
	if err != nil {
		return nil, err
	}
	credStoreCounter, err := meter.Int64Counter("credstore.operations")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		sessionLoginCounter:   loginCounter,
		sessionRefreshCounter: refreshCounter,
		sessionLogoutCounter:  logoutCounter,
		sessionExpiredCounter: expiredCounter,
		sessionWarningCounter: warningCounter,
		authorizedReqCounter:  requestCounter,
		draftCacheCounter:     draftCounter,
		credStoreCounter:      credStoreCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func RecordSessionLogin(status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionLoginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordSessionRefresh(status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordSessionLogout(status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordSessionExpired(reason string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionExpiredCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordSessionWarning() {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionWarningCounter.Add(context.Background(), 1)
}

func RecordAuthorizedRequest(outcome string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.authorizedReqCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordDraftCacheOperation(operation, status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.draftCacheCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

func RecordCredStoreOperation(operation, status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.credStoreCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

// RecordBearerValidation counts token checks performed by the dev identity
// stub's protected routes.
func RecordBearerValidation(result string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.authorizedReqCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", "stub_validation"),
		attribute.String("result", result),
	))
}
