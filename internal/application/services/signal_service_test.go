package services

import (
	"fmt"
	"testing"
	"time"

	"chainpulse/internal/analysis"
	"chainpulse/internal/domain"
	"chainpulse/pkg/logger"
)

type fakeCache struct {
	windows map[string][]domain.MetricPoint
}

func (f *fakeCache) CacheMetric(point domain.MetricPoint) error { return nil }

func (f *fakeCache) GetCachedMetric(asset, metric string) (domain.MetricPoint, error) {
	return domain.MetricPoint{}, fmt.Errorf("no cached value for %s %s", asset, metric)
}

func (f *fakeCache) IsAvailable() bool { return true }

func (f *fakeCache) GetMetricsInRange(asset, metric string, window time.Duration) ([]domain.MetricPoint, error) {
	points, ok := f.windows[asset+"|"+metric]
	if !ok {
		return nil, fmt.Errorf("no window for %s %s", asset, metric)
	}
	return points, nil
}

type fakeStorage struct {
	signals  []domain.Signal
	failNext bool
}

func (f *fakeStorage) SaveMetricPoint(point domain.MetricPoint) error { return nil }
func (f *fakeStorage) GetLatestMetric(asset, metric string) (domain.MetricPoint, error) {
	return domain.MetricPoint{}, fmt.Errorf("no data for %s %s", asset, metric)
}
func (f *fakeStorage) GetMetricSeries(asset, metric string, from, to time.Time) ([]domain.MetricPoint, error) {
	return nil, nil
}
func (f *fakeStorage) SaveAggregate(agg domain.AggregatedMetric) error { return nil }
func (f *fakeStorage) GetAggregates(asset, metric string, from, to time.Time) ([]domain.AggregatedMetric, error) {
	return nil, nil
}
func (f *fakeStorage) SaveSignal(signal domain.Signal) error {
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("storage down")
	}
	f.signals = append(f.signals, signal)
	return nil
}
func (f *fakeStorage) GetRecentSignals(asset string, limit int) ([]domain.Signal, error) {
	return f.signals, nil
}

func mvrvWindow(asset string, z float64) (string, []domain.MetricPoint) {
	return asset + "|" + analysis.MetricMVRVZScore, []domain.MetricPoint{{
		Metric:    analysis.MetricMVRVZScore,
		Asset:     asset,
		Timestamp: time.Now(),
		Value:     z,
	}}
}

func TestSignalServiceEmitsAndDeduplicates(t *testing.T) {
	cache := &fakeCache{windows: map[string][]domain.MetricPoint{}}
	storage := &fakeStorage{}

	k, points := mvrvWindow("BTC", 3.0)
	cache.windows[k] = points

	svc := NewSignalService(cache, storage, []string{"BTC"}, logger.SetupLogger())

	now := time.Now()
	svc.EvaluateOnce(now)

	if len(storage.signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(storage.signals))
	}
	if storage.signals[0].Kind != domain.SignalSell || storage.signals[0].Asset != "BTC" {
		t.Errorf("unexpected signal: %+v", storage.signals[0])
	}

	// Same condition again: still just one persisted row.
	svc.EvaluateOnce(now.Add(time.Minute))
	if len(storage.signals) != 1 {
		t.Errorf("expected dedup to suppress repeat, got %d signals", len(storage.signals))
	}

	// The kind flipping re-arms the rule.
	k, points = mvrvWindow("BTC", -0.9)
	cache.windows[k] = points
	svc.EvaluateOnce(now.Add(2 * time.Minute))
	if len(storage.signals) != 2 {
		t.Fatalf("expected a second signal after kind flip, got %d", len(storage.signals))
	}
	if storage.signals[1].Kind != domain.SignalBuy {
		t.Errorf("expected BUY, got %s", storage.signals[1].Kind)
	}
}

func TestSignalServiceRetriesAfterStorageFailure(t *testing.T) {
	cache := &fakeCache{windows: map[string][]domain.MetricPoint{}}
	storage := &fakeStorage{failNext: true}

	k, points := mvrvWindow("BTC", 3.0)
	cache.windows[k] = points

	svc := NewSignalService(cache, storage, []string{"BTC"}, logger.SetupLogger())

	now := time.Now()
	svc.EvaluateOnce(now)
	if len(storage.signals) != 0 {
		t.Fatalf("first save should have failed, got %d signals", len(storage.signals))
	}

	// A failed save must not mark the signal as emitted.
	svc.EvaluateOnce(now.Add(time.Minute))
	if len(storage.signals) != 1 {
		t.Errorf("expected retry to persist the signal, got %d", len(storage.signals))
	}
}

func TestSignalServiceSkipsAssetsWithoutData(t *testing.T) {
	cache := &fakeCache{windows: map[string][]domain.MetricPoint{}}
	storage := &fakeStorage{}

	svc := NewSignalService(cache, storage, []string{"BTC", "ETH"}, logger.SetupLogger())
	svc.EvaluateOnce(time.Now())

	if len(storage.signals) != 0 {
		t.Errorf("expected no signals without data, got %d", len(storage.signals))
	}
}
