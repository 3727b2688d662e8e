package services

import (
	"context"
	"log/slog"
	"time"

	"chainpulse/internal/analysis"
	"chainpulse/internal/domain"
)

// signalLookback is how much history the rules see on each evaluation.
// The SOPR moving-average rule needs at least a week of daily samples.
const signalLookback = 14 * 24 * time.Hour

// SignalService periodically runs the indicator rule engine against
// recent metric windows and persists whatever fires.
type SignalService struct {
	cache   domain.CachePort
	storage domain.StoragePort
	assets  []string
	logger  *slog.Logger

	// lastEmitted deduplicates: a rule that keeps firing on every
	// evaluation only produces a new row when its kind flips.
	lastEmitted map[string]domain.SignalKind
}

func NewSignalService(cache domain.CachePort, storage domain.StoragePort, assets []string, logger *slog.Logger) *SignalService {
	return &SignalService{
		cache:       cache,
		storage:     storage,
		assets:      assets,
		logger:      logger,
		lastEmitted: make(map[string]domain.SignalKind),
	}
}

// Run evaluates on the given cadence until ctx is canceled.
func (s *SignalService) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	s.logger.Info("Starting signal evaluation task", "every", every)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Signal evaluation task stopped")
			return
		case <-ticker.C:
			s.EvaluateOnce(time.Now())
		}
	}
}

// EvaluateOnce runs the rules for every asset against the trailing
// lookback window.
func (s *SignalService) EvaluateOnce(now time.Time) {
	for _, asset := range s.assets {
		series := s.loadSeries(asset)
		signals := analysis.EvaluateSignals(asset, series, now)

		for _, signal := range signals {
			key := asset + "|" + signal.Indicator
			if s.lastEmitted[key] == signal.Kind {
				continue
			}

			if err := s.storage.SaveSignal(signal); err != nil {
				s.logger.Error("Failed to save signal",
					"error", err,
					"asset", asset,
					"indicator", signal.Indicator)
				continue
			}
			s.lastEmitted[key] = signal.Kind

			s.logger.Info("Signal emitted",
				"asset", asset,
				"kind", signal.Kind,
				"strength", signal.Strength,
				"indicator", signal.Indicator,
				"value", signal.Value)
		}
	}
}

func (s *SignalService) loadSeries(asset string) map[string][]domain.MetricPoint {
	metrics := []string{
		analysis.MetricMVRVZScore,
		analysis.MetricSOPR,
		analysis.MetricExchangeNetFlow,
	}

	series := make(map[string][]domain.MetricPoint, len(metrics))
	for _, metric := range metrics {
		points, err := s.cache.GetMetricsInRange(asset, metric, signalLookback)
		if err != nil {
			s.logger.Debug("No window for signal metric",
				"asset", asset,
				"metric", metric,
				"error", err)
			continue
		}
		series[metric] = points
	}
	return series
}
