package testdata

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"chainpulse/internal/domain"
)

// Baselines close to values the real endpoints report, so everything
// downstream (signal thresholds included) stays in a realistic range.
var initialValues = map[string]float64{
	"market/price_usd_close":                      65000.0,
	"market/mvrv_z_score":                         1.2,
	"indicators/sopr":                             1.01,
	"indicators/net_unrealized_profit_loss":       0.45,
	"indicators/puell_multiple":                   1.1,
	"supply/profit_relative":                      0.85,
	"addresses/active_count":                      900000.0,
	"distribution/gini":                           0.82,
	"transactions/transfers_volume_exchanges_net": 50.0,
}

// Per-tick percentage drift bounds for each metric.
var volatility = map[string]struct {
	min float64
	max float64
}{
	"market/price_usd_close":                      {-0.8, 0.8},
	"market/mvrv_z_score":                         {-2.0, 2.0},
	"indicators/sopr":                             {-0.3, 0.3},
	"indicators/net_unrealized_profit_loss":       {-1.5, 1.5},
	"indicators/puell_multiple":                   {-1.0, 1.0},
	"supply/profit_relative":                      {-0.5, 0.5},
	"addresses/active_count":                      {-1.0, 1.0},
	"distribution/gini":                           {-0.1, 0.1},
	"transactions/transfers_volume_exchanges_net": {-40.0, 40.0},
}

// Generator implements domain.SourcePort with a random walk per
// metric, standing in for the live API in test mode.
type Generator struct {
	name      string
	asset     string
	values    map[string]float64
	pointChan chan domain.MetricPoint
	errChan   chan error
	logger    *slog.Logger
	interval  time.Duration
	running   bool
	mutex     sync.Mutex
	metrics   []string
}

func NewGenerator(name, asset string, interval time.Duration, logger *slog.Logger) *Generator {
	values := make(map[string]float64)
	metrics := make([]string, 0, len(initialValues))
	for metric, value := range initialValues {
		values[metric] = value
		metrics = append(metrics, metric)
	}

	return &Generator{
		name:     name,
		asset:    asset,
		values:   values,
		logger:   logger,
		interval: interval,
		metrics:  metrics,
	}
}

func (g *Generator) Connect() error {
	g.logger.Info("Connecting synthetic metric source", "source", g.Name())
	return nil
}

func (g *Generator) Close() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.running = false
	g.logger.Info("Synthetic metric source closed", "source", g.Name())
	return nil
}

func (g *Generator) IsConnected() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.running
}

func (g *Generator) Name() string {
	return g.name
}

func (g *Generator) StreamMetrics(ctx context.Context) (<-chan domain.MetricPoint, <-chan error) {
	g.mutex.Lock()
	g.pointChan = make(chan domain.MetricPoint, 100)
	g.errChan = make(chan error, 10)
	g.running = true
	g.mutex.Unlock()

	go g.generate(ctx)

	return g.pointChan, g.errChan
}

func (g *Generator) generate(ctx context.Context) {
	defer func() {
		close(g.pointChan)
		close(g.errChan)
		g.logger.Info("Metric generation stopped", "source", g.Name())
	}()

	g.logger.Info("Starting metric generation", "source", g.Name(), "interval", g.interval)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			g.mutex.Lock()
			running := g.running
			g.mutex.Unlock()
			if !running {
				return
			}

			for _, metric := range g.metrics {
				point := domain.MetricPoint{
					Metric:    metric,
					Asset:     g.asset,
					Timestamp: time.Now(),
					Value:     g.nextValue(metric),
				}

				select {
				case <-ctx.Done():
					return
				case g.pointChan <- point:
				}
			}
		}
	}
}

// nextValue advances one metric's random walk, with an occasional
// outsized jump so the extremes and signal paths see real exercise.
func (g *Generator) nextValue(metric string) float64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	current := g.values[metric]
	vol := volatility[metric]

	changePercent := vol.min + rand.Float64()*(vol.max-vol.min)
	next := current + current*changePercent/100.0

	if rand.Float64() < 0.02 {
		jump := -10.0 + rand.Float64()*20.0
		next = next * (1.0 + jump/100.0)
	}

	g.values[metric] = next
	return next
}
