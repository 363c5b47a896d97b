package dispatch_test

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
	"github.com/commstream/integration-pipeline/internal/dispatch"
	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/registry"
)

func newTestDeps(t *testing.T) (*dispatch.Deps, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	db := sqlx.NewDb(mockDB, "postgres")

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	client := queue.NewStreamsClientFromRedis(rc, "pipeline-test")
	streamQueue := queue.New(client, queue.Config{Stage: "streams", ConsumerID: "test"})
	require.NoError(t, streamQueue.Init(context.Background()))
	dataQueue := queue.New(client, queue.Config{Stage: "data", ConsumerID: "test"})
	require.NoError(t, dataQueue.Init(context.Background()))
	runQueue := queue.New(client, queue.Config{Stage: "runs", ConsumerID: "test"})
	require.NoError(t, runQueue.Init(context.Background()))

	deps := &dispatch.Deps{
		Runs:         database.NewRunRepository(db),
		Streams:      database.NewStreamRepository(db),
		Data:         database.NewDataRepository(db),
		Integrations: database.NewIntegrationRepository(db),
		Registry:     registry.New(),
		RedisClient:  rc,
		RunQueue:     runQueue,
		StreamQueue:  streamQueue,
		DataQueue:    dataQueue,
		Settings:     dispatch.Settings{MaxStreamRetries: 2, MaxDataRetries: 2, CacheTTL: time.Hour},
		Log:          logger.NewNop(),
	}
	return deps, mock
}

func expectRunRow(mock sqlmock.Sqlmock, id, tenantID, integrationID string, state domain.State) {
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "integration_id", "onboarding", "state", "delayed_until", "error", "processed_at", "created_at", "updated_at"}).
		AddRow(id, tenantID, integrationID, false, string(state), nil, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT .+ FROM integration.runs WHERE id = \\$1").WillReturnRows(rows)
}

func expectIntegrationRow(mock sqlmock.Sqlmock, id, tenantID, platform string) {
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "platform", "identifier", "status", "settings", "deleted_at"}).
		AddRow(id, tenantID, platform, nil, "ACTIVE", domain.JSONBMap{}, nil)
	mock.ExpectQuery("SELECT .+ FROM integrations WHERE id = \\$1").WillReturnRows(rows)
}

func TestRunDispatcher_RootFanOut(t *testing.T) {
	t.Parallel()

	deps, mock := newTestDeps(t)

	var publishedIdentifiers []string
	deps.Registry.Register(registry.Handler{
		Platform: "test-platform",
		GenerateStreams: func(rc *registry.RunContext) error {
			for _, id := range []string{"s1", "s2", "s3"} {
				if err := rc.PublishStream(id, nil); err != nil {
					return err
				}
				publishedIdentifiers = append(publishedIdentifiers, id)
			}
			return nil
		},
	})

	expectRunRow(mock, "run-1", "tenant-1", "integration-1", domain.StatePending)
	expectIntegrationRow(mock, "integration-1", "tenant-1", "test-platform")
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM integration.streams WHERE run_id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("UPDATE integration.runs").WillReturnResult(sqlmock.NewResult(0, 1))

	for i := 0; i < 3; i++ {
		mock.ExpectQuery("INSERT INTO integration.streams").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	}

	d := dispatch.NewRunDispatcher(deps)
	err := d.Handle(context.Background(), queue.NewProcessRunMessage("tenant-1", "run-1"))
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2", "s3"}, publishedIdentifiers)
	require.NoError(t, mock.ExpectationsWereMet())

	depth, err := deps.StreamQueue.QueueDepth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), depth)
}

func TestRunDispatcher_MissingIntegrationMarksRunError(t *testing.T) {
	t.Parallel()

	deps, mock := newTestDeps(t)

	expectRunRow(mock, "run-1", "tenant-1", "integration-1", domain.StatePending)
	mock.ExpectQuery("SELECT .+ FROM integrations WHERE id = \\$1").WillReturnError(domain.ErrNotFound)
	mock.ExpectExec("UPDATE integration.runs").WillReturnResult(sqlmock.NewResult(0, 1))

	d := dispatch.NewRunDispatcher(deps)
	err := d.Handle(context.Background(), queue.NewProcessRunMessage("tenant-1", "run-1"))
	require.Error(t, err)
}

func TestRunDispatcher_DropsMissingRun(t *testing.T) {
	t.Parallel()

	deps, mock := newTestDeps(t)
	mock.ExpectQuery("SELECT .+ FROM integration.runs WHERE id = \\$1").WillReturnError(domain.ErrNotFound)

	d := dispatch.NewRunDispatcher(deps)
	err := d.Handle(context.Background(), queue.NewProcessRunMessage("tenant-1", "missing"))
	require.NoError(t, err)
}

func TestRunDispatcher_SkipsAlreadyTerminalRun(t *testing.T) {
	t.Parallel()

	deps, mock := newTestDeps(t)
	expectRunRow(mock, "run-1", "tenant-1", "integration-1", domain.StateError)

	d := dispatch.NewRunDispatcher(deps)
	err := d.Handle(context.Background(), queue.NewProcessRunMessage("tenant-1", "run-1"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDispatcher_ResumeTransitionsRunToProcessing(t *testing.T) {
	t.Parallel()

	deps, mock := newTestDeps(t)
	deps.Registry.Register(registry.Handler{Platform: "test-platform"})

	// A stream reset a run to DELAYED; the sweeper promoted it PENDING and
	// re-enqueued process_run before the stream itself was re-driven.
	expectRunRow(mock, "run-1", "tenant-1", "integration-1", domain.StatePending)
	expectIntegrationRow(mock, "integration-1", "tenant-1", "test-platform")
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM integration.streams WHERE run_id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("UPDATE integration.runs").
		WithArgs("run-1", domain.StateProcessing, domain.StatePending, domain.StateDelayed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id FROM integration.streams WHERE run_id = \\$1 AND state = \\$2").
		WithArgs("run-1", domain.StatePending).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))

	d := dispatch.NewRunDispatcher(deps)
	err := d.Handle(context.Background(), queue.NewProcessRunMessage("tenant-1", "run-1"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	depth, err := deps.StreamQueue.QueueDepth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestRunDispatcher_ResumeIgnoresAlreadyProcessingRun(t *testing.T) {
	t.Parallel()

	deps, mock := newTestDeps(t)
	deps.Registry.Register(registry.Handler{Platform: "test-platform"})

	// Redelivery of process_run for a resume already handled once: the run
	// is already PROCESSING, so the guarded transition affects zero rows.
	expectRunRow(mock, "run-1", "tenant-1", "integration-1", domain.StateProcessing)
	expectIntegrationRow(mock, "integration-1", "tenant-1", "test-platform")
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM integration.streams WHERE run_id = \\$1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("UPDATE integration.runs").
		WithArgs("run-1", domain.StateProcessing, domain.StatePending, domain.StateDelayed).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM integration.streams WHERE run_id = \\$1 AND state = \\$2").
		WithArgs("run-1", domain.StatePending).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	d := dispatch.NewRunDispatcher(deps)
	err := d.Handle(context.Background(), queue.NewProcessRunMessage("tenant-1", "run-1"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
