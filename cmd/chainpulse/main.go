package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainpulse/config"
	"chainpulse/internal/adapters/cache"
	"chainpulse/internal/adapters/source"
	"chainpulse/internal/adapters/source/testdata"
	"chainpulse/internal/adapters/storage"
	"chainpulse/internal/adapters/web"
	"chainpulse/internal/application/concurrency"
	"chainpulse/internal/application/services"
	"chainpulse/internal/domain"
	"chainpulse/pkg/logger"
)

// pipeline bundles everything that has to be torn down and rebuilt on a
// mode switch.
type pipeline struct {
	cancel context.CancelFunc
	pool   *concurrency.WorkerPool
	errCh  <-chan error
}

func main() {
	log := logger.SetupLogger()
	log.Info("Starting chainpulse on-chain metrics collector")

	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log.Info("Connecting to PostgreSQL")
	postgresStorage, err := storage.NewPostgresStorage(cfg.Postgres.ConnectionString(), log)
	if err != nil {
		log.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresStorage.Close()

	log.Info("Connecting to Redis")
	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	redisCache, err := cache.NewRedisCache(redisAddr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	redisCache.SetStorage(postgresStorage)
	defer redisCache.Close()

	metricPaths := make([]string, 0, len(cfg.Metrics))
	metricParams := make(map[string]map[string]string)
	for _, m := range cfg.Metrics {
		metricPaths = append(metricPaths, m.Path())
		if len(m.Params) > 0 {
			metricParams[m.Path()] = m.Params
		}
	}

	webHandler := web.NewHandler(redisCache, postgresStorage, cfg.Assets, metricPaths, log)
	httpServer := webHandler.Setup(cfg.API.Port)

	go func() {
		log.Info("Starting HTTP server", "port", cfg.API.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", "error", err)
		}
	}()

	buildSources := func(live bool) []domain.SourcePort {
		if !live {
			return testdata.CreateTestSources(cfg.Assets, log)
		}
		client := source.NewClient(cfg.Glassnode.BaseURL, cfg.Glassnode.APIKey, log)
		return []domain.SourcePort{
			source.NewPollingSource(client, cfg.Assets, metricPaths, metricParams,
				cfg.Glassnode.Interval, cfg.Glassnode.PollEvery.Std(), log),
		}
	}

	startPipeline := func(live bool) pipeline {
		ctx, cancel := context.WithCancel(context.Background())

		collector := services.NewCollectorService(buildSources(live), postgresStorage, redisCache, log)
		pointCh, errCh := collector.Start(ctx)

		pool := concurrency.NewWorkerPool(cfg.Workers.PerCategory, postgresStorage, redisCache, log)
		pool.Start(ctx, pointCh)

		go startAggregationTask(ctx, cfg, redisCache, postgresStorage, log)

		signalService := services.NewSignalService(redisCache, postgresStorage, cfg.Assets, log)
		go signalService.Run(ctx, cfg.Workers.SignalEvery.Std())

		return pipeline{cancel: cancel, pool: pool, errCh: errCh}
	}

	current := startPipeline(true)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	modeCh := webHandler.GetModeChannel()

	log.Info("System is up",
		"assets", len(cfg.Assets),
		"metrics", len(metricPaths),
		"poll_every", cfg.Glassnode.PollEvery.Std())

	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()
	startTime := time.Now()

	for {
		select {
		case live := <-modeCh:
			if live {
				log.Info("Switching to live mode")
			} else {
				log.Info("Switching to test mode")
			}

			current.cancel()
			current = startPipeline(live)
			startTime = time.Now()

		case err, ok := <-current.errCh:
			if !ok {
				continue
			}
			log.Error("Collection error", "error", err)

		case <-statsTicker.C:
			processed := current.pool.GetTotalProcessed()
			rate := float64(processed) / time.Since(startTime).Seconds()
			log.Info("Collection statistics",
				"total", processed,
				"rate", fmt.Sprintf("%.2f points/sec", rate))

		case <-signalCh:
			log.Info("Shutdown signal received, stopping")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to stop HTTP server", "error", err)
			}

			current.cancel()

			// Block until every worker has flushed and exited.
			current.pool.Wait()

			log.Info("chainpulse stopped")
			return
		}
	}
}

// startAggregationTask periodically rolls the cached window of every
// (asset, metric) pair into min/max/avg rows in PostgreSQL.
func startAggregationTask(ctx context.Context, cfg *config.Config, cache domain.CachePort, storage domain.StoragePort, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.Workers.AggregationWindow.Std())
	defer ticker.Stop()

	logger.Info("Starting periodic aggregation", "window", cfg.Workers.AggregationWindow.Std())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping periodic aggregation")
			return
		case <-ticker.C:
			for _, asset := range cfg.Assets {
				for _, metric := range cfg.Metrics {
					points, err := cache.GetMetricsInRange(asset, metric.Path(), cfg.Workers.AggregationWindow.Std())
					if err != nil {
						logger.Error("Failed to load window for aggregation",
							"error", err, "asset", asset, "metric", metric.Path())
						continue
					}
					if len(points) == 0 {
						continue
					}

					var sum float64
					min := points[0].Value
					max := points[0].Value
					for _, p := range points {
						sum += p.Value
						if p.Value < min {
							min = p.Value
						}
						if p.Value > max {
							max = p.Value
						}
					}

					agg := domain.AggregatedMetric{
						Metric:    metric.Path(),
						Asset:     asset,
						Timestamp: time.Now(),
						Average:   sum / float64(len(points)),
						Min:       min,
						Max:       max,
						Last:      points[len(points)-1].Value,
						Count:     len(points),
					}

					if err := storage.SaveAggregate(agg); err != nil {
						logger.Error("Failed to save aggregate",
							"error", err,
							"asset", asset,
							"metric", metric.Path())
					}
				}
			}
		}
	}
}
