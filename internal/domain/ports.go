package domain

import (
	"context"
	"time"
)

type SourcePort interface {
	Connect() error
	Close() error
	StreamMetrics(ctx context.Context) (<-chan MetricPoint, <-chan error)
	IsConnected() bool
	Name() string
}

type StoragePort interface {
	SaveMetricPoint(point MetricPoint) error
	GetLatestMetric(asset, metric string) (MetricPoint, error)
	GetMetricSeries(asset, metric string, from, to time.Time) ([]MetricPoint, error)
	SaveAggregate(agg AggregatedMetric) error
	GetAggregates(asset, metric string, from, to time.Time) ([]AggregatedMetric, error)
	SaveSignal(signal Signal) error
	GetRecentSignals(asset string, limit int) ([]Signal, error)
}

type CachePort interface {
	CacheMetric(point MetricPoint) error
	GetCachedMetric(asset, metric string) (MetricPoint, error)
	GetMetricsInRange(asset, metric string, window time.Duration) ([]MetricPoint, error)
	// IsAvailable reports whether the cache itself is reachable,
	// independent of any storage fallback.
	IsAvailable() bool
}
