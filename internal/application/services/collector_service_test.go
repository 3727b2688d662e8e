package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chainpulse/internal/adapters/source/testdata"
	"chainpulse/internal/domain"
	"chainpulse/pkg/logger"
)

func TestCollectorServiceMergesSources(t *testing.T) {
	log := logger.SetupLogger()

	sources := []domain.SourcePort{
		testdata.NewGenerator("generator-btc", "BTC", 10*time.Millisecond, log),
		testdata.NewGenerator("generator-eth", "ETH", 10*time.Millisecond, log),
	}

	collector := NewCollectorService(sources, nil, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	pointCh, errCh := collector.Start(ctx)

	assets := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for len(assets) < 2 {
		select {
		case point := <-pointCh:
			if point.Metric == "" {
				t.Fatalf("received point with empty metric: %+v", point)
			}
			assets[point.Asset] = true
		case err := <-errCh:
			t.Fatalf("unexpected source error: %v", err)
		case <-deadline:
			t.Fatalf("timed out waiting for points, saw assets %v", assets)
		}
	}

	if !assets["BTC"] || !assets["ETH"] {
		t.Errorf("expected points from both sources, saw %v", assets)
	}

	cancel()

	// Both channels must close once the sources shut down.
	drainDeadline := time.After(2 * time.Second)
	for pointCh != nil || errCh != nil {
		select {
		case _, ok := <-pointCh:
			if !ok {
				pointCh = nil
			}
		case _, ok := <-errCh:
			if !ok {
				errCh = nil
			}
		case <-drainDeadline:
			t.Fatal("channels did not close after cancel")
		}
	}
}

func TestCollectorServiceSkipsFailedConnect(t *testing.T) {
	log := logger.SetupLogger()

	working := testdata.NewGenerator("generator-btc", "BTC", 10*time.Millisecond, log)
	broken := &failingSource{}

	collector := NewCollectorService([]domain.SourcePort{broken, working}, nil, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pointCh, _ := collector.Start(ctx)

	select {
	case point := <-pointCh:
		if point.Asset != "BTC" {
			t.Errorf("expected BTC point from the working source, got %+v", point)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a point from the working source")
	}
}

// burstSource floods its buffered channel until its stream context is
// canceled, keeping sends in flight during teardown.
type burstSource struct {
	name      string
	mu        sync.Mutex
	connected bool
}

func (b *burstSource) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *burstSource) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *burstSource) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *burstSource) Name() string { return b.name }

func (b *burstSource) StreamMetrics(ctx context.Context) (<-chan domain.MetricPoint, <-chan error) {
	pointCh := make(chan domain.MetricPoint, 100)
	errCh := make(chan error, 10)

	go func() {
		defer close(pointCh)
		defer close(errCh)
		for i := 0; ; i++ {
			point := domain.MetricPoint{
				Metric:    "indicators/sopr",
				Asset:     "BTC",
				Timestamp: time.Now(),
				Value:     float64(i),
			}
			select {
			case <-ctx.Done():
				return
			case pointCh <- point:
			}
		}
	}()

	return pointCh, errCh
}

func TestCollectorServiceShutdownWithPointsInFlight(t *testing.T) {
	log := logger.SetupLogger()

	// Tear the pipeline down mid-stream repeatedly. A close that races
	// an in-flight forward panics and fails the test.
	for iteration := 0; iteration < 20; iteration++ {
		sources := make([]domain.SourcePort, 0, 10)
		for j := 0; j < 10; j++ {
			sources = append(sources, &burstSource{name: fmt.Sprintf("burst-%d", j)})
		}

		collector := NewCollectorService(sources, nil, nil, log)
		ctx, cancel := context.WithCancel(context.Background())
		pointCh, errCh := collector.Start(ctx)

		// Wait for traffic so the buffers are hot, then cancel.
		select {
		case <-pointCh:
		case <-time.After(2 * time.Second):
			t.Fatal("no points before cancel")
		}
		cancel()

		deadline := time.After(2 * time.Second)
		for pointCh != nil || errCh != nil {
			select {
			case _, ok := <-pointCh:
				if !ok {
					pointCh = nil
				}
			case _, ok := <-errCh:
				if !ok {
					errCh = nil
				}
			case <-deadline:
				t.Fatal("channels did not close after cancel")
			}
		}
	}
}

type failingSource struct{}

func (f *failingSource) Connect() error { return context.DeadlineExceeded }
func (f *failingSource) Close() error   { return nil }
func (f *failingSource) StreamMetrics(ctx context.Context) (<-chan domain.MetricPoint, <-chan error) {
	return nil, nil
}
func (f *failingSource) IsConnected() bool { return false }
func (f *failingSource) Name() string      { return "failing" }
