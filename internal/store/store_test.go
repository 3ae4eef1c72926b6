package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlInsertRun = `
        INSERT INTO harvest_runs (run_id, portal, filter, started_at, finished_at, success, order_count, failure_count, failures)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	sqlInsertOrder = `
        INSERT INTO harvested_orders (run_id, position, external_id, summary, detail)
        VALUES ($1, $2, $3, $4, $5)`
)

func newTestStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleResult() *schemas.HarvestResult {
	started := time.Date(2024, 5, 2, 10, 0, 0, 0, time.FixedZone("CLT", -4*3600))
	return &schemas.HarvestResult{
		RunID:      uuid.NewString(),
		Portal:     "comercionet",
		Filter:     schemas.ListingFilter{DocumentTypeID: "9", Direction: "recibidos", DateFrom: "2024-05-01", DateTo: "2024-05-02", Status: "0"},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Minute),
		Success:    true,
		Orders: []schemas.HarvestedOrder{
			{Summary: schemas.OrderSummary{ExternalID: "1001"}},
			{Summary: schemas.OrderSummary{ExternalID: "1003"}},
		},
		Failures: []schemas.RowFailure{{RowIndex: 1, ExternalID: "1002", Kind: schemas.KindDetailOpenTimeout, Reason: "no new browsing context opened"}},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newTestStore(t, zap.NewNop())

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS portal_sessions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist the run and its orders in order", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newTestStore(t, zap.New(observedZapCore))
		result := sampleResult()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(
				result.RunID, "comercionet", pgxmock.AnyArg(),
				result.StartedAt.UTC(), result.FinishedAt.UTC(),
				true, 2, 1, pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOrder)).
			WithArgs(result.RunID, 0, "1001", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOrder)).
			WithArgs(result.RunID, 1, "1003", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, result))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when an order insert fails", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		result := sampleResult()
		insertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOrder)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, result)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.Contains(t, err.Error(), "1001")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail if begin fails", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := s.SaveRun(ctx, sampleResult())
		assert.ErrorContains(t, err, "failed to begin transaction")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentRuns(t *testing.T) {
	s, mockPool := newTestStore(t, zap.NewNop())
	started := time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"run_id", "portal", "started_at", "finished_at", "success", "order_count", "failure_count"}).
		AddRow("8e0f8d3c-6b0e-4a51-9d55-0c1b1f6f0a11", "comercionet", started, started.Add(time.Minute), true, 12, 0).
		AddRow("1b7c1c59-5c8f-4d0e-b6f2-3f9cf0f4f7e2", "comercionet", started.Add(-time.Hour), started.Add(-time.Hour), false, 0, 0)
	mockPool.ExpectQuery("SELECT run_id::text, portal").
		WithArgs("comercionet", 5).
		WillReturnRows(rows)

	runs, err := s.RecentRuns(context.Background(), "comercionet", 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 12, runs[0].OrderCount)
	assert.True(t, runs[0].Success)
	assert.False(t, runs[1].Success)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
