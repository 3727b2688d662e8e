package testdata

import (
	"log/slog"
	"time"

	"chainpulse/internal/domain"
)

// CreateTestSources builds one synthetic source per asset, with
// slightly different cadences to mimic uneven arrival.
func CreateTestSources(assets []string, logger *slog.Logger) []domain.SourcePort {
	sources := make([]domain.SourcePort, 0, len(assets))
	for i, asset := range assets {
		interval := time.Duration(80+20*i) * time.Millisecond
		sources = append(sources, NewGenerator("test-"+asset, asset, interval, logger))
	}

	logger.Info("Created test metric sources", "count", len(sources))
	return sources
}
