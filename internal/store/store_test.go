package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/pm25-relay-sim/internal/logic"
	"github.com/sweeney/pm25-relay-sim/internal/mixing"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var (
	day1 = logic.Date{Year: 2020, Month: time.August, Day: 13}
	day2 = logic.Date{Year: 2020, Month: time.August, Day: 14}
)

func TestEnsureSchema(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS daily_averages`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS event_summaries`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDaily_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewBaselineRepository(db, zap.NewNop())

	table := logic.NewDailyBaseline(map[logic.Date]float64{day2: 8, day1: 12.5})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_averages`).
		WithArgs("boulder.csv", day1.Time(), 12.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO daily_averages`).
		WithArgs("boulder.csv", day2.Time(), 8.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveDaily(context.Background(), "boulder.csv", table))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDaily_RollsBackOnError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewBaselineRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_averages`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveDaily(context.Background(), "boulder.csv", logic.NewDailyBaseline(map[logic.Date]float64{day1: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDaily_RequiresSeries(t *testing.T) {
	db, _ := setupMockDB(t)
	repo := NewBaselineRepository(db, zap.NewNop())
	assert.Error(t, repo.SaveDaily(context.Background(), "", logic.DailyBaseline{}))
}

func TestLoadDaily(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewBaselineRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"day", "average"}).
		AddRow(day1.Time(), 12.5).
		AddRow(day2.Time(), 8.0)
	mock.ExpectQuery(`SELECT day, average`).WithArgs("boulder.csv").WillReturnRows(rows)

	table, err := repo.LoadDaily(context.Background(), "boulder.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	v, ok := table.Lookup(day2)
	assert.True(t, ok)
	assert.Equal(t, 8.0, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSummary(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSummaryRepository(db, zap.NewNop())

	runID := uuid.New().String()
	rec := SummaryRecord{
		RunID:         runID,
		Series:        "boulder.csv",
		Policy:        "window",
		Readings:      1440,
		Events:        3,
		MeanDuration:  90 * time.Minute,
		MeanGap:       6 * time.Hour,
		OnShare:       12.5,
		ElevatedShare: 80,
	}

	mock.ExpectExec(`INSERT INTO event_summaries`).
		WithArgs(runID, "boulder.csv", "window", 1440, 3,
			int64(90*time.Minute), int64(6*time.Hour),
			sqlmock.AnyArg(), 12.5, 80.0, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveSummary(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, repo.SaveSummary(context.Background(), SummaryRecord{Series: "x"}))
}

func TestListRun(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSummaryRepository(db, zap.NewNop())

	runID := uuid.New().String()
	open := time.Date(2020, 8, 14, 3, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"run_id", "series", "policy", "readings", "event_count", "mean_duration", "mean_gap",
		"open_since", "on_share", "elevated_share", "error_kind",
	}).
		AddRow(runID, "a.csv", "area", 10, 1, int64(time.Hour), int64(0), nil, 10.0, 0.0, "").
		AddRow(runID, "b.csv", "area", 20, 0, int64(0), int64(0), open, 50.0, 100.0, "degenerate")
	mock.ExpectQuery(`SELECT run_id, series`).WithArgs(runID).WillReturnRows(rows)

	recs, err := repo.ListRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, time.Hour, recs[0].MeanDuration)
	assert.Nil(t, recs[0].OpenSince)
	require.NotNil(t, recs[1].OpenSince)
	assert.True(t, recs[1].OpenSince.Equal(open))
	assert.Equal(t, "degenerate", recs[1].ErrorKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEstimateRows(t *testing.T) {
	t0 := time.Date(2020, 8, 13, 0, 0, 0, 0, time.UTC)
	run := logic.Run{Decisions: []logic.Decision{
		{Time: t0, PM25: 5, Baseline: 10, State: logic.StateOff},
		{Time: t0.Add(time.Minute), PM25: 60, Baseline: 10, State: logic.StateOn},
	}}
	est := mixing.Estimate{Times: []time.Time{t0, t0.Add(time.Minute)}, Indoor: []float64{0, 0.4}}

	rows, err := estimateRows(run, est)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint8(0), rows[0].RelayOn)
	assert.Equal(t, uint8(1), rows[1].RelayOn)
	assert.Equal(t, 0.4, rows[1].Indoor)
	assert.Equal(t, 60.0, rows[1].Outdoor)

	_, err = estimateRows(run, mixing.Estimate{Indoor: []float64{1}})
	assert.Error(t, err)
}
