package concurrency

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chainpulse/internal/domain"
)

// WorkerPool persists incoming metric points. Points are fanned out to
// per-category channels so a slow category (a rate-limited endpoint
// group, say) never stalls the others.
type WorkerPool struct {
	workersPerCategory int
	storage            domain.StoragePort
	cache              domain.CachePort
	logger             *slog.Logger
	wg                 sync.WaitGroup
	totalProcessed     int64
}

func NewWorkerPool(workersPerCategory int, storage domain.StoragePort, cache domain.CachePort, logger *slog.Logger) *WorkerPool {
	return &WorkerPool{
		workersPerCategory: workersPerCategory,
		storage:            storage,
		cache:              cache,
		logger:             logger,
	}
}

// categoryOf extracts the category half of a "category/name" metric.
func categoryOf(metric string) string {
	if i := strings.IndexByte(metric, '/'); i > 0 {
		return metric[:i]
	}
	return metric
}

func (wp *WorkerPool) Start(ctx context.Context, inputCh <-chan domain.MetricPoint) {
	categoryChannels := make(map[string]chan domain.MetricPoint)
	var channelsMu sync.RWMutex

	dispatcherDone := make(chan struct{})

	// Fan-out dispatcher: route points to their category's channel,
	// creating channels and workers lazily.
	go func() {
		defer close(dispatcherDone)

		closeAll := func() {
			channelsMu.Lock()
			for category, ch := range categoryChannels {
				close(ch)
				wp.logger.Debug("Closed channel for category", "category", category)
			}
			channelsMu.Unlock()
		}

		for {
			select {
			case <-ctx.Done():
				wp.logger.Info("Dispatcher stopping, closing category channels")
				closeAll()
				return

			case point, ok := <-inputCh:
				if !ok {
					wp.logger.Info("Input channel closed, stopping dispatcher")
					closeAll()
					return
				}

				category := categoryOf(point.Metric)

				channelsMu.RLock()
				ch, exists := categoryChannels[category]
				channelsMu.RUnlock()

				if !exists {
					channelsMu.Lock()
					ch, exists = categoryChannels[category]
					if !exists {
						ch = make(chan domain.MetricPoint, 100)
						categoryChannels[category] = ch

						for i := 0; i < wp.workersPerCategory; i++ {
							wp.wg.Add(1)
							go wp.worker(ctx, category, i, ch)
						}

						wp.logger.Info("Created workers for new category",
							"category", category,
							"workers", wp.workersPerCategory)
					}
					channelsMu.Unlock()
				}

				select {
				case ch <- point:
				case <-ctx.Done():
					return
				default:
					wp.logger.Warn("Channel full, dropping point",
						"category", category,
						"metric", point.Metric)
				}
			}
		}
	}()

	// Periodic statistics.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				processed := atomic.LoadInt64(&wp.totalProcessed)
				channelsMu.RLock()
				active := len(categoryChannels)
				channelsMu.RUnlock()
				wp.logger.Info("Worker pool statistics",
					"total_processed", processed,
					"active_categories", active)
			}
		}
	}()

	go func() {
		<-dispatcherDone
		wp.wg.Wait()

		finalProcessed := atomic.LoadInt64(&wp.totalProcessed)
		wp.logger.Info("Worker pool stopped", "total_processed", finalProcessed)
	}()
}

func (wp *WorkerPool) worker(ctx context.Context, category string, id int, ch <-chan domain.MetricPoint) {
	defer wp.wg.Done()

	wp.logger.Info("Worker started", "category", category, "worker_id", id)

	processedCount := 0
	batchBuffer := make([]domain.MetricPoint, 0, 10)
	batchTicker := time.NewTicker(5 * time.Second)
	defer batchTicker.Stop()

	processBatch := func() {
		if len(batchBuffer) == 0 {
			return
		}

		for _, point := range batchBuffer {
			if err := wp.cache.CacheMetric(point); err != nil {
				wp.logger.Error("Failed to cache metric point",
					"error", err,
					"category", category,
					"metric", point.Metric)
			}
			if err := wp.storage.SaveMetricPoint(point); err != nil {
				wp.logger.Error("Failed to store metric point",
					"error", err,
					"category", category,
					"metric", point.Metric)
			}
		}

		atomic.AddInt64(&wp.totalProcessed, int64(len(batchBuffer)))
		batchBuffer = batchBuffer[:0]
	}

	for {
		select {
		case <-ctx.Done():
			processBatch()
			wp.logger.Info("Worker stopped by context",
				"category", category,
				"worker_id", id,
				"processed", processedCount)
			return

		case <-batchTicker.C:
			processBatch()

		case point, ok := <-ch:
			if !ok {
				processBatch()
				wp.logger.Info("Worker stopped, channel closed",
					"category", category,
					"worker_id", id,
					"processed", processedCount)
				return
			}

			batchBuffer = append(batchBuffer, point)
			processedCount++

			if len(batchBuffer) >= 10 {
				processBatch()
			}

			if processedCount%1000 == 0 {
				wp.logger.Debug("Worker progress",
					"category", category,
					"worker_id", id,
					"processed", processedCount)
			}
		}
	}
}

// Wait blocks until every worker has drained and exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) GetTotalProcessed() int64 {
	return atomic.LoadInt64(&wp.totalProcessed)
}
