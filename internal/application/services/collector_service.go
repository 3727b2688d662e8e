package services

import (
	"context"
	"log/slog"
	"sync"

	"chainpulse/internal/domain"
)

// CollectorService fans metric points from every configured source into
// a single stream for the worker pool.
type CollectorService struct {
	sources []domain.SourcePort
	storage domain.StoragePort
	cache   domain.CachePort
	logger  *slog.Logger
}

func NewCollectorService(sources []domain.SourcePort, storage domain.StoragePort, cache domain.CachePort, logger *slog.Logger) *CollectorService {
	return &CollectorService{
		sources: sources,
		storage: storage,
		cache:   cache,
		logger:  logger,
	}
}

// Start connects all sources and returns the merged point and error
// channels. Both are closed after ctx is canceled and the sources shut
// down.
func (s *CollectorService) Start(ctx context.Context) (<-chan domain.MetricPoint, <-chan error) {
	pointCh := make(chan domain.MetricPoint, 100*len(s.sources))
	errCh := make(chan error, 10*len(s.sources))

	s.logger.Info("Starting metric collection from all sources", "count", len(s.sources))

	var forwarders sync.WaitGroup
	for _, source := range s.sources {
		if err := source.Connect(); err != nil {
			s.logger.Error("Failed to connect to source",
				"source", source.Name(),
				"error", err)
			continue
		}

		srcPointCh, srcErrCh := source.StreamMetrics(ctx)

		forwarders.Add(2)
		go func(name string, points <-chan domain.MetricPoint) {
			defer forwarders.Done()
			s.logger.Info("Starting point forwarding", "source", name)
			for point := range points {
				select {
				case <-ctx.Done():
					return
				case pointCh <- point:
				}
			}
			s.logger.Info("Point forwarding finished", "source", name)
		}(source.Name(), srcPointCh)

		go func(name string, errs <-chan error) {
			defer forwarders.Done()
			for err := range errs {
				select {
				case <-ctx.Done():
					return
				case errCh <- err:
				}
			}
		}(source.Name(), srcErrCh)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutdown signal received, closing sources")

		for _, source := range s.sources {
			if source.IsConnected() {
				if err := source.Close(); err != nil {
					s.logger.Error("Failed to close source",
						"source", source.Name(),
						"error", err)
				}
			}
		}

		// Every forwarder must be done before the merged channels
		// close, or an in-flight send panics.
		forwarders.Wait()
		close(pointCh)
		close(errCh)
		s.logger.Info("Collector channels closed")
	}()

	return pointCh, errCh
}
