package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
)

// BaselineRepository stores the daily quiet-window averages of each series.
type BaselineRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewBaselineRepository(db *sql.DB, logger *zap.Logger) *BaselineRepository {
	return &BaselineRepository{db: db, logger: logger}
}

// SaveDaily upserts every day of table for the series in one transaction.
func (r *BaselineRepository) SaveDaily(ctx context.Context, series string, table logic.DailyBaseline) error {
	if series == "" {
		return fmt.Errorf("series is required")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO daily_averages (series, day, average, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (series, day) DO UPDATE
		SET average = EXCLUDED.average, updated_at = EXCLUDED.updated_at
	`
	for _, d := range table.Dates() {
		avg, _ := table.Lookup(d)
		if _, err := tx.ExecContext(ctx, query, series, d.Time(), avg); err != nil {
			return fmt.Errorf("failed to upsert baseline %s/%s: %w", series, d, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit baselines: %w", err)
	}
	r.logger.Debug("saved daily baselines",
		zap.String("series", series),
		zap.Int("days", table.Len()),
	)
	return nil
}

// LoadDaily returns the stored table for the series, empty when none exists.
func (r *BaselineRepository) LoadDaily(ctx context.Context, series string) (logic.DailyBaseline, error) {
	query := `
		SELECT day, average
		FROM daily_averages
		WHERE series = $1
		ORDER BY day
	`
	rows, err := r.db.QueryContext(ctx, query, series)
	if err != nil {
		return logic.DailyBaseline{}, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	values := make(map[logic.Date]float64)
	for rows.Next() {
		var (
			day time.Time
			avg float64
		)
		if err := rows.Scan(&day, &avg); err != nil {
			return logic.DailyBaseline{}, fmt.Errorf("failed to scan baseline: %w", err)
		}
		values[logic.DateOf(day)] = avg
	}
	if err := rows.Err(); err != nil {
		return logic.DailyBaseline{}, fmt.Errorf("failed to iterate baselines: %w", err)
	}
	return logic.NewDailyBaseline(values), nil
}
