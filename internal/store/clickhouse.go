package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/pm25-relay-sim/internal/config"
	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/mixing"
)

const estimatesTable = `
	CREATE TABLE IF NOT EXISTS indoor_estimates (
		run_id     UUID,
		series     String,
		timestamp  DateTime64(3, 'UTC'),
		outdoor    Float64,
		baseline   Float64,
		relay_on   UInt8,
		indoor     Float64
	) ENGINE = MergeTree()
	ORDER BY (series, timestamp)
`

// ClickHouseSink writes per-reading relay state and indoor estimates.
type ClickHouseSink struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseSink connects, pings and creates the table.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, estimatesTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("connected to ClickHouse", zap.String("addr", cfg.Addr))
	return &ClickHouseSink{conn: conn, logger: logger}, nil
}

type estimateRow struct {
	Time     time.Time
	Outdoor  float64
	Baseline float64
	RelayOn  uint8
	Indoor   float64
}

// estimateRows joins the relay decisions with the indoor estimate by index.
func estimateRows(run logic.Run, est mixing.Estimate) ([]estimateRow, error) {
	if len(est.Indoor) != len(run.Decisions) {
		return nil, fmt.Errorf("indoor estimate has %d values for %d decisions", len(est.Indoor), len(run.Decisions))
	}
	rows := make([]estimateRow, len(run.Decisions))
	for i, d := range run.Decisions {
		rows[i] = estimateRow{
			Time:     d.Time.UTC(),
			Outdoor:  d.PM25,
			Baseline: d.Baseline,
			Indoor:   est.Indoor[i],
		}
		if d.State == logic.StateOn {
			rows[i].RelayOn = 1
		}
	}
	return rows, nil
}

// WriteEstimate appends one row per reading in a single batch.
func (s *ClickHouseSink) WriteEstimate(ctx context.Context, runID, series string, run logic.Run, est mixing.Estimate) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", runID, err)
	}
	rows, err := estimateRows(run, est)
	if err != nil {
		return err
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO indoor_estimates")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(id, series, r.Time, r.Outdoor, r.Baseline, r.RelayOn, r.Indoor); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append estimate row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send estimate batch: %w", err)
	}
	s.logger.Debug("wrote indoor estimates",
		zap.String("series", series),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
	}
	return nil
}
