package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SummaryRecord is one series' outcome within a batch run.
type SummaryRecord struct {
	RunID         string
	Series        string
	Policy        string
	Readings      int
	Events        int
	MeanDuration  time.Duration
	MeanGap       time.Duration
	OpenSince     *time.Time
	OnShare       float64
	ElevatedShare float64
	ErrorKind     string
}

// SummaryRepository stores per-series event summaries.
type SummaryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSummaryRepository(db *sql.DB, logger *zap.Logger) *SummaryRepository {
	return &SummaryRepository{db: db, logger: logger}
}

// SaveSummary inserts or replaces the record for (run, series).
func (r *SummaryRepository) SaveSummary(ctx context.Context, rec SummaryRecord) error {
	if rec.RunID == "" || rec.Series == "" {
		return fmt.Errorf("run_id and series are required")
	}
	query := `
		INSERT INTO event_summaries (
			run_id, series, policy, readings, event_count, mean_duration, mean_gap,
			open_since, on_share, elevated_share, error_kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, series) DO UPDATE SET
			policy = EXCLUDED.policy,
			readings = EXCLUDED.readings,
			event_count = EXCLUDED.event_count,
			mean_duration = EXCLUDED.mean_duration,
			mean_gap = EXCLUDED.mean_gap,
			open_since = EXCLUDED.open_since,
			on_share = EXCLUDED.on_share,
			elevated_share = EXCLUDED.elevated_share,
			error_kind = EXCLUDED.error_kind
	`
	var openSince sql.NullTime
	if rec.OpenSince != nil {
		openSince = sql.NullTime{Time: *rec.OpenSince, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		rec.RunID, rec.Series, rec.Policy, rec.Readings, rec.Events,
		int64(rec.MeanDuration), int64(rec.MeanGap),
		openSince, rec.OnShare, rec.ElevatedShare, rec.ErrorKind,
	)
	if err != nil {
		return fmt.Errorf("failed to save summary %s: %w", rec.Series, err)
	}
	return nil
}

// ListRun returns the records of one run ordered by series.
func (r *SummaryRepository) ListRun(ctx context.Context, runID string) ([]SummaryRecord, error) {
	query := `
		SELECT run_id, series, policy, readings, event_count, mean_duration, mean_gap,
		       open_since, on_share, elevated_share, error_kind
		FROM event_summaries
		WHERE run_id = $1
		ORDER BY series
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		var (
			rec       SummaryRecord
			dur, gap  int64
			openSince sql.NullTime
		)
		if err := rows.Scan(
			&rec.RunID, &rec.Series, &rec.Policy, &rec.Readings, &rec.Events, &dur, &gap,
			&openSince, &rec.OnShare, &rec.ElevatedShare, &rec.ErrorKind,
		); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		rec.MeanDuration = time.Duration(dur)
		rec.MeanGap = time.Duration(gap)
		if openSince.Valid {
			t := openSince.Time
			rec.OpenSince = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return out, nil
}
