package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"chainpulse/internal/domain"
)

const (
	// BatchSize is the most raw points buffered before a forced flush.
	BatchSize = 100
	// BatchTimeoutSec is the flush deadline for a partially full buffer.
	BatchTimeoutSec = 10
)

type PostgresStorage struct {
	db             *sql.DB
	logger         *slog.Logger
	pointBuffer    []domain.MetricPoint
	bufferMutex    sync.Mutex
	batchingCtx    context.Context
	batchingCancel context.CancelFunc
}

func NewPostgresStorage(connectionString string, logger *slog.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	storage := &PostgresStorage{
		db:             db,
		logger:         logger,
		pointBuffer:    make([]domain.MetricPoint, 0, BatchSize),
		batchingCtx:    ctx,
		batchingCancel: cancel,
	}

	if err := storage.createTables(); err != nil {
		cancel()
		return nil, err
	}

	go storage.startBatchProcessor()

	logger.Info("PostgreSQL storage initialized with batching support",
		"batch_size", BatchSize,
		"batch_timeout", BatchTimeoutSec)
	return storage, nil
}

func (s *PostgresStorage) createTables() error {
	query := `
    CREATE TABLE IF NOT EXISTS metric_points (
        id SERIAL PRIMARY KEY,
        metric VARCHAR(120) NOT NULL,
        asset VARCHAR(20) NOT NULL,
        timestamp TIMESTAMP NOT NULL,
        value DOUBLE PRECISION NOT NULL,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (metric, asset, timestamp)
    );

    CREATE INDEX IF NOT EXISTS idx_metric_asset_time
    ON metric_points(metric, asset, timestamp);

    CREATE TABLE IF NOT EXISTS metric_aggregates (
        id SERIAL PRIMARY KEY,
        metric VARCHAR(120) NOT NULL,
        asset VARCHAR(20) NOT NULL,
        timestamp TIMESTAMP NOT NULL,
        average_value DOUBLE PRECISION NOT NULL,
        min_value DOUBLE PRECISION NOT NULL,
        max_value DOUBLE PRECISION NOT NULL,
        last_value DOUBLE PRECISION NOT NULL,
        sample_count INTEGER NOT NULL,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_agg_metric_asset_time
    ON metric_aggregates(metric, asset, timestamp);

    CREATE TABLE IF NOT EXISTS signals (
        id SERIAL PRIMARY KEY,
        kind VARCHAR(10) NOT NULL,
        strength VARCHAR(10) NOT NULL,
        indicator VARCHAR(60) NOT NULL,
        asset VARCHAR(20) NOT NULL,
        value DOUBLE PRECISION NOT NULL,
        reason TEXT NOT NULL,
        timestamp TIMESTAMP NOT NULL,
        created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );

    CREATE INDEX IF NOT EXISTS idx_signals_asset_time
    ON signals(asset, timestamp);`

	_, err := s.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	s.logger.Info("Database tables created successfully")
	return nil
}

// SaveMetricPoint buffers a raw sample for batched insertion.
func (s *PostgresStorage) SaveMetricPoint(point domain.MetricPoint) error {
	s.bufferMutex.Lock()
	defer s.bufferMutex.Unlock()

	s.pointBuffer = append(s.pointBuffer, point)

	if len(s.pointBuffer) >= BatchSize {
		return s.flushBufferLocked()
	}

	return nil
}

// flushBufferLocked writes the buffer in one transaction. Callers must
// hold bufferMutex.
func (s *PostgresStorage) flushBufferLocked() error {
	if len(s.pointBuffer) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Upsert keeps repeated polls of the same window idempotent.
	stmt, err := tx.Prepare(`
		INSERT INTO metric_points (metric, asset, timestamp, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (metric, asset, timestamp) DO UPDATE SET value = EXCLUDED.value
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, point := range s.pointBuffer {
		_, err := stmt.Exec(point.Metric, point.Asset, point.Timestamp, point.Value)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute batch insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Batch saved to database", "records", len(s.pointBuffer))

	s.pointBuffer = make([]domain.MetricPoint, 0, BatchSize)

	return nil
}

// FlushBuffer forces the buffered points out to the database.
func (s *PostgresStorage) FlushBuffer() error {
	s.bufferMutex.Lock()
	defer s.bufferMutex.Unlock()

	return s.flushBufferLocked()
}

func (s *PostgresStorage) startBatchProcessor() {
	ticker := time.NewTicker(time.Duration(BatchTimeoutSec) * time.Second)
	defer ticker.Stop()

	s.logger.Info("Starting batch processor", "timeout_sec", BatchTimeoutSec)

	for {
		select {
		case <-ticker.C:
			if err := s.FlushBuffer(); err != nil {
				s.logger.Error("Failed to flush buffer", "error", err)
			}
		case <-s.batchingCtx.Done():
			s.logger.Info("Batch processor shutting down")
			if err := s.FlushBuffer(); err != nil {
				s.logger.Error("Failed to flush buffer during shutdown", "error", err)
			}
			return
		}
	}
}

// GetLatestMetric returns the newest stored sample for a pair.
func (s *PostgresStorage) GetLatestMetric(asset, metric string) (domain.MetricPoint, error) {
	var point domain.MetricPoint
	query := `
        SELECT metric, asset, timestamp, value
        FROM metric_points
        WHERE asset = $1 AND metric = $2
        ORDER BY timestamp DESC
        LIMIT 1`

	row := s.db.QueryRow(query, asset, metric)
	err := row.Scan(&point.Metric, &point.Asset, &point.Timestamp, &point.Value)
	if err != nil {
		if err == sql.ErrNoRows {
			return point, fmt.Errorf("no data for %s %s", asset, metric)
		}
		return point, fmt.Errorf("failed to get latest metric: %w", err)
	}

	return point, nil
}

// GetMetricSeries returns raw samples in [from, to], oldest first.
func (s *PostgresStorage) GetMetricSeries(asset, metric string, from, to time.Time) ([]domain.MetricPoint, error) {
	query := `
        SELECT metric, asset, timestamp, value
        FROM metric_points
        WHERE asset = $1 AND metric = $2
        AND timestamp >= $3 AND timestamp <= $4
        ORDER BY timestamp ASC`

	rows, err := s.db.Query(query, asset, metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric series: %w", err)
	}
	defer rows.Close()

	var points []domain.MetricPoint
	for rows.Next() {
		var p domain.MetricPoint
		if err := rows.Scan(&p.Metric, &p.Asset, &p.Timestamp, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// SaveAggregate writes one windowed rollup. Aggregates are few enough
// that they go straight through without batching.
func (s *PostgresStorage) SaveAggregate(agg domain.AggregatedMetric) error {
	query := `
        INSERT INTO metric_aggregates
        (metric, asset, timestamp, average_value, min_value, max_value, last_value, sample_count)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(query,
		agg.Metric, agg.Asset, agg.Timestamp,
		agg.Average, agg.Min, agg.Max, agg.Last, agg.Count)
	if err != nil {
		return fmt.Errorf("failed to save aggregate: %w", err)
	}
	return nil
}

// GetAggregates returns rollups in [from, to], newest first.
func (s *PostgresStorage) GetAggregates(asset, metric string, from, to time.Time) ([]domain.AggregatedMetric, error) {
	query := `
        SELECT metric, asset, timestamp, average_value, min_value, max_value, last_value, sample_count
        FROM metric_aggregates
        WHERE asset = $1 AND metric = $2
        AND timestamp >= $3 AND timestamp <= $4
        ORDER BY timestamp DESC`

	rows, err := s.db.Query(query, asset, metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var results []domain.AggregatedMetric
	for rows.Next() {
		var agg domain.AggregatedMetric
		err := rows.Scan(
			&agg.Metric,
			&agg.Asset,
			&agg.Timestamp,
			&agg.Average,
			&agg.Min,
			&agg.Max,
			&agg.Last,
			&agg.Count,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, agg)
	}

	return results, rows.Err()
}

// SaveSignal persists one rule-engine emission.
func (s *PostgresStorage) SaveSignal(signal domain.Signal) error {
	query := `
        INSERT INTO signals (kind, strength, indicator, asset, value, reason, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(query,
		string(signal.Kind), string(signal.Strength), signal.Indicator,
		signal.Asset, signal.Value, signal.Reason, signal.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// GetRecentSignals returns the newest signals for an asset.
func (s *PostgresStorage) GetRecentSignals(asset string, limit int) ([]domain.Signal, error) {
	query := `
        SELECT kind, strength, indicator, asset, value, reason, timestamp
        FROM signals
        WHERE asset = $1
        ORDER BY timestamp DESC
        LIMIT $2`

	rows, err := s.db.Query(query, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var sig domain.Signal
		var kind, strength string
		err := rows.Scan(&kind, &strength, &sig.Indicator, &sig.Asset, &sig.Value, &sig.Reason, &sig.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sig.Kind = domain.SignalKind(kind)
		sig.Strength = domain.SignalStrength(strength)
		signals = append(signals, sig)
	}

	return signals, rows.Err()
}

func (s *PostgresStorage) Close() error {
	s.batchingCancel()

	if err := s.FlushBuffer(); err != nil {
		s.logger.Error("Failed to flush buffer during closing", "error", err)
	}

	return s.db.Close()
}
