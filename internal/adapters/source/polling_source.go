package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chainpulse/internal/domain"
)

// initialLookback bounds the first fetch of every series so a fresh
// start doesn't pull years of history.
const initialLookback = 30 * 24 * time.Hour

// PollingSource streams metric points by polling the remote API on a
// fixed cadence for every configured (asset, metric) pair.
type PollingSource struct {
	client    *Client
	name      string
	assets    []string
	metrics   []string
	params    map[string]map[string]string
	interval  string
	pollEvery time.Duration
	logger    *slog.Logger

	mu        sync.RWMutex
	connected bool
	lastSeen  map[string]time.Time
}

// NewPollingSource builds a source over client. params maps a metric
// path to extra query parameters its endpoint needs (e.g. "e" for
// exchange-scoped metrics); metrics without an entry poll with none.
func NewPollingSource(client *Client, assets, metrics []string, params map[string]map[string]string, interval string, pollEvery time.Duration, logger *slog.Logger) *PollingSource {
	return &PollingSource{
		client:    client,
		name:      "glassnode",
		assets:    assets,
		metrics:   metrics,
		params:    params,
		interval:  interval,
		pollEvery: pollEvery,
		logger:    logger,
		lastSeen:  make(map[string]time.Time),
	}
}

func (s *PollingSource) Name() string {
	return s.name
}

func (s *PollingSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client.apiKey == "" {
		return fmt.Errorf("glassnode api key is not set")
	}

	s.logger.Info("Connecting metric source",
		"source", s.name,
		"assets", len(s.assets),
		"metrics", len(s.metrics))
	s.connected = true
	return nil
}

func (s *PollingSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.logger.Info("Metric source closed", "source", s.name)
	return nil
}

func (s *PollingSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// StreamMetrics starts one polling loop per (asset, metric) pair and
// fans their points into a single channel. Each loop only emits points
// newer than the last timestamp it has seen, so restart of a poll
// cycle never duplicates samples downstream.
func (s *PollingSource) StreamMetrics(ctx context.Context) (<-chan domain.MetricPoint, <-chan error) {
	pointCh := make(chan domain.MetricPoint, 100)
	errCh := make(chan error, 10)

	var wg sync.WaitGroup
	for _, asset := range s.assets {
		for _, metric := range s.metrics {
			wg.Add(1)
			go func(asset, metric string) {
				defer wg.Done()
				s.pollLoop(ctx, asset, metric, pointCh, errCh)
			}(asset, metric)
		}
	}

	go func() {
		wg.Wait()
		close(pointCh)
		close(errCh)
		s.logger.Info("All polling loops stopped", "source", s.name)
	}()

	return pointCh, errCh
}

func (s *PollingSource) pollLoop(ctx context.Context, asset, metric string, pointCh chan<- domain.MetricPoint, errCh chan<- error) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	// First poll immediately, then on the ticker.
	s.poll(ctx, asset, metric, pointCh, errCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, asset, metric, pointCh, errCh)
		}
	}
}

func (s *PollingSource) poll(ctx context.Context, asset, metric string, pointCh chan<- domain.MetricPoint, errCh chan<- error) {
	since := s.sinceFor(asset, metric)

	points, err := s.client.FetchMetric(ctx, metric, asset, s.interval, since, time.Time{}, s.params[metric])
	if err != nil {
		select {
		case errCh <- err:
		case <-ctx.Done():
		}
		return
	}

	// Compare every point against the watermark from before this batch:
	// a multi-field response flattens into several points sharing one
	// timestamp, and all of them must pass.
	last := s.lastSeenFor(asset, metric)
	newest := last
	for _, p := range points {
		if !p.Timestamp.After(last) {
			continue
		}
		if p.Timestamp.After(newest) {
			newest = p.Timestamp
		}
		select {
		case pointCh <- p:
		case <-ctx.Done():
			return
		}
	}
	s.setLastSeen(asset, metric, newest)
}

func (s *PollingSource) sinceFor(asset, metric string) time.Time {
	last := s.lastSeenFor(asset, metric)
	if last.IsZero() {
		return time.Now().Add(-initialLookback)
	}
	// One second past the last point to avoid refetching it.
	return last.Add(time.Second)
}

func (s *PollingSource) lastSeenFor(asset, metric string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen[asset+"|"+metric]
}

func (s *PollingSource) setLastSeen(asset, metric string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.After(s.lastSeen[asset+"|"+metric]) {
		s.lastSeen[asset+"|"+metric] = ts
	}
}
