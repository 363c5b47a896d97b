package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/database"
	"github.com/commstream/integration-pipeline/internal/domain"
)

func TestRunRepository_TransitionToProcessing_GuardsOnCurrentState(t *testing.T) {
	t.Parallel()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewRunRepository(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE integration.runs").
		WithArgs("run-1", domain.StateProcessing, domain.StatePending, domain.StateDelayed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.TransitionToProcessing(ctx, "run-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_TransitionToProcessing_NoMatchingRowReturnsNotFound(t *testing.T) {
	t.Parallel()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewRunRepository(db)
	ctx := context.Background()

	mock.ExpectExec("UPDATE integration.runs").
		WithArgs("run-1", domain.StateProcessing, domain.StatePending, domain.StateDelayed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.TransitionToProcessing(ctx, "run-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunRepository_PromoteDelayed_ReturnsPromotedIDs(t *testing.T) {
	t.Parallel()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewRunRepository(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery("UPDATE integration.runs").
		WithArgs(domain.StatePending, domain.StateDelayed, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1").AddRow("run-2"))

	ids, err := repo.PromoteDelayed(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, ids)
}

func TestRunRepository_HasOutstandingWork(t *testing.T) {
	t.Parallel()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := sqlx.NewDb(mockDB, "postgres")
	repo := database.NewRunRepository(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("run-1", domain.StatePending, domain.StateProcessing, domain.StateDelayed).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	has, err := repo.HasOutstandingWork(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, has)
}
