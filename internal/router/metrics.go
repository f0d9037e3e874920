package router

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/briefd/internal/router"

// routerMetrics holds routing instruments.
type routerMetrics struct {
	requestsTotal metric.Int64Counter
	cacheHits     metric.Int64Counter
	costTotal     metric.Float64Counter
	latency       metric.Float64Histogram
}

func newRouterMetrics(meter metric.Meter, logger *zap.Logger) *routerMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &routerMetrics{}
	var err error

	m.requestsTotal, err = meter.Int64Counter(
		"briefd.router.requests_total",
		metric.WithDescription("Routed generation requests labeled by task, tier, provider, and outcome."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.cacheHits, err = meter.Int64Counter(
		"briefd.router.cache_hits_total",
		metric.WithDescription("Completion cache hits labeled by task."),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		logger.Warn("failed to create cache hits counter", zap.Error(err))
	}

	m.costTotal, err = meter.Float64Counter(
		"briefd.router.cost_usd_total",
		metric.WithDescription("Committed generation spend in USD labeled by task and tier."),
		metric.WithUnit("{usd}"),
	)
	if err != nil {
		logger.Warn("failed to create cost counter", zap.Error(err))
	}

	m.latency, err = meter.Float64Histogram(
		"briefd.router.request_duration_seconds",
		metric.WithDescription("End-to-end routed request duration in seconds labeled by task and tier."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		logger.Warn("failed to create latency histogram", zap.Error(err))
	}

	return m
}

func (m *routerMetrics) recordRoute(ctx context.Context, task, tier, provider, outcome string) {
	if m.requestsTotal == nil {
		return
	}
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task", task),
		attribute.String("tier", tier),
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func (m *routerMetrics) recordCacheHit(ctx context.Context, task string) {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

func (m *routerMetrics) recordCost(ctx context.Context, task, tier string, costUSD float64, latency time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("task", task),
		attribute.String("tier", tier),
	)
	if m.costTotal != nil {
		m.costTotal.Add(ctx, costUSD, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, latency.Seconds(), attrs)
	}
}
