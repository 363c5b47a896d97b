package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/database"
	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
)

func newTestSweeper(t *testing.T) (*Sweeper, sqlmock.Sqlmock, *queue.Queue, *queue.Queue) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	client := queue.NewStreamsClientFromRedis(rc, "sweeper-test")

	runQ := queue.New(client, queue.Config{Stage: "runs", ConsumerID: "test"})
	require.NoError(t, runQ.Init(context.Background()))
	streamQ := queue.New(client, queue.Config{Stage: "streams", ConsumerID: "test"})
	require.NoError(t, streamQ.Init(context.Background()))

	s := New(database.NewRunRepository(db), database.NewStreamRepository(db), runQ, streamQ, logger.NewNop(), Config{Interval: time.Hour})
	return s, mock, runQ, streamQ
}

func TestSweeper_PromoteOnceRepublishesDelayedRun(t *testing.T) {
	t.Parallel()

	s, mock, runQ, _ := newTestSweeper(t)
	now := time.Now()

	mock.ExpectQuery("UPDATE integration.runs").
		WithArgs(domain.StatePending, domain.StateDelayed, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))
	mock.ExpectQuery("SELECT .+ FROM integration.runs WHERE id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "integration_id", "onboarding", "state", "delayed_until", "error", "processed_at", "created_at", "updated_at"}).
			AddRow("run-1", "tenant-1", "integration-1", false, string(domain.StatePending), nil, nil, nil, now, now))
	mock.ExpectQuery("UPDATE integration.streams").
		WithArgs(domain.StatePending, domain.StateDelayed, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s.promoteOnce(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())

	depth, err := runQ.QueueDepth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestSweeper_CheckCompletionMarksProcessedWhenNoStreamsOutstanding(t *testing.T) {
	t.Parallel()

	s, mock, _, _ := newTestSweeper(t)

	mock.ExpectQuery("SELECT id FROM integration.runs WHERE state = \\$1").
		WithArgs(domain.StateProcessing).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("run-1", domain.StatePending, domain.StateProcessing, domain.StateDelayed).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE integration.runs").
		WithArgs("run-1", domain.StateProcessed, domain.StateProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.checkCompletionOnce(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweeper_CheckCompletionFinalizesProcessedDespiteAbortedStream(t *testing.T) {
	t.Parallel()

	s, mock, _, _ := newTestSweeper(t)

	mock.ExpectQuery("SELECT id FROM integration.runs WHERE state = \\$1").
		WithArgs(domain.StateProcessing).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("run-1", domain.StatePending, domain.StateProcessing, domain.StateDelayed).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE integration.runs").
		WithArgs("run-1", domain.StateProcessed, domain.StateProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.checkCompletionOnce(context.Background())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSweeper_StartStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s, mock, _, _ := newTestSweeper(t)
	mock.MatchExpectationsInOrder(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // second call is a no-op
	s.Stop()
	s.Stop() // second call is a no-op
}
