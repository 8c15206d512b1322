package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestAdvanceCursorWritesAndVerifies(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&SchedulerStateRepository{}).WithDB(db)
	ctx := context.Background()

	require.NoError(t, repo.AdvanceCursor(ctx, "research:5m", 0, 1))
	require.NoError(t, repo.AdvanceCursor(ctx, "research:5m", 1, 2))

	state, err := repo.Get(ctx, "research:5m")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, 2, state.LastProcessedIndex)
}

func TestAdvanceCursorMismatchRestoresPrevious(t *testing.T) {
	db, mock := newMockDB(t)
	repo := (&SchedulerStateRepository{}).WithDB(db)

	// the cursor write itself succeeds
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "scheduler_states"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	// but the read-back still carries the old index
	mock.ExpectQuery(`SELECT \* FROM "scheduler_states" WHERE interval_key`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "interval_key", "last_processed_index"}).
			AddRow(1, "research:5m", 4))

	// the previous index is written back before the error surfaces
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "scheduler_states"`).
		WithArgs("research:5m", 4, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := repo.AdvanceCursor(context.Background(), "research:5m", 4, 5)
	require.ErrorIs(t, err, ErrCursorVerification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunPersistsOutcome(t *testing.T) {
	db := newSQLiteDB(t)
	repo := (&SchedulerStateRepository{}).WithDB(db)
	ctx := context.Background()

	require.NoError(t, repo.RecordRun(ctx, "research:15m", "BTCUSDT", true, 1500*time.Millisecond, nil))

	state, err := repo.Get(ctx, "research:15m")
	require.NoError(t, err)
	require.True(t, state.LastSuccess)
	require.Equal(t, "BTCUSDT", state.LastSymbol)
	require.Equal(t, int64(1500), state.LastDurationMs)

	require.NoError(t, repo.RecordRun(ctx, "research:15m", "ETHUSDT", false, time.Second, errors.New("signal timeout")))

	state, err = repo.Get(ctx, "research:15m")
	require.NoError(t, err)
	require.False(t, state.LastSuccess)
	require.Equal(t, "signal timeout", state.LastError)
}
