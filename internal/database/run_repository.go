package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/commstream/integration-pipeline/internal/domain"
)

// runColumns lists the columns of integration.runs in scan order.
const runColumns = `id, tenant_id, integration_id, onboarding, state, delayed_until,
	error, processed_at, created_at, updated_at`

// runRow mirrors integration.runs for sqlx scanning.
type runRow struct {
	ID            string             `db:"id"`
	TenantID      string             `db:"tenant_id"`
	IntegrationID string             `db:"integration_id"`
	Onboarding    bool               `db:"onboarding"`
	State         string             `db:"state"`
	DelayedUntil  sql.NullTime       `db:"delayed_until"`
	Error         domain.ErrorDetail `db:"error"`
	ProcessedAt   sql.NullTime       `db:"processed_at"`
	CreatedAt     sql.NullTime       `db:"created_at"`
	UpdatedAt     sql.NullTime       `db:"updated_at"`
}

func (r runRow) toDomain() *domain.Run {
	run := &domain.Run{
		ID:            r.ID,
		TenantID:      r.TenantID,
		IntegrationID: r.IntegrationID,
		Onboarding:    r.Onboarding,
		State:         domain.State(r.State),
		Error:         r.Error,
	}
	if r.DelayedUntil.Valid {
		run.DelayedUntil = &r.DelayedUntil.Time
	}
	if r.ProcessedAt.Valid {
		run.ProcessedAt = &r.ProcessedAt.Time
	}
	if r.CreatedAt.Valid {
		run.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		run.UpdatedAt = r.UpdatedAt.Time
	}
	return run
}

// RunRepository is the state repository's view over integration.runs.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository builds a RunRepository over db.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new PENDING run.
func (r *RunRepository) Create(ctx context.Context, run *domain.Run) error {
	query := `
		INSERT INTO integration.runs (id, tenant_id, integration_id, onboarding, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, run.ID, run.TenantID, run.IntegrationID, run.Onboarding, run.State).
		Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetByID loads a run by id.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	var row runRow
	query := `SELECT ` + runColumns + ` FROM integration.runs WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// TransitionToProcessing guards PENDING/DELAYED -> PROCESSING with a
// WHERE-clause check on the current state, implementing the monotone
// lattice: a stale writer targeting an already-advanced run affects zero rows.
func (r *RunRepository) TransitionToProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE integration.runs
		SET state = $2, delayed_until = NULL, updated_at = NOW()
		WHERE id = $1 AND state IN ($3, $4)`

	return r.execExpectOneRow(ctx, query, id, domain.StateProcessing, domain.StatePending, domain.StateDelayed)
}

// TransitionToProcessed guards PROCESSING -> PROCESSED and stamps processed_at.
func (r *RunRepository) TransitionToProcessed(ctx context.Context, id string) error {
	query := `
		UPDATE integration.runs
		SET state = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = $3`

	return r.execExpectOneRow(ctx, query, id, domain.StateProcessed, domain.StateProcessing)
}

// TransitionToError guards any non-terminal state -> ERROR and records detail.
func (r *RunRepository) TransitionToError(ctx context.Context, id string, detail domain.ErrorDetail) error {
	query := `
		UPDATE integration.runs
		SET state = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND state NOT IN ($4, $5)`

	return r.execExpectOneRow(ctx, query, id, domain.StateError, detail, domain.StateProcessed, domain.StateError)
}

// TransitionToDelayed guards PROCESSING -> DELAYED with a resume deadline.
func (r *RunRepository) TransitionToDelayed(ctx context.Context, id string, delayedUntil time.Time) error {
	query := `
		UPDATE integration.runs
		SET state = $2, delayed_until = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4`

	return r.execExpectOneRow(ctx, query, id, domain.StateDelayed, delayedUntil, domain.StateProcessing)
}

// PromoteDelayed resets every DELAYED run whose delayed_until has passed
// back to PENDING, returning their ids for re-enqueue by the sweeper.
func (r *RunRepository) PromoteDelayed(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE integration.runs
		SET state = $1, updated_at = NOW()
		WHERE state = $2 AND delayed_until <= $3
		RETURNING id`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, domain.StatePending, domain.StateDelayed, now); err != nil {
		return nil, fmt.Errorf("promote delayed runs: %w", err)
	}
	return ids, nil
}

// StreamStateCounts summarizes a run's descendant stream/data states. No
// repository method fills it; the sweeper's completion check uses
// HasOutstandingWork instead.
type StreamStateCounts struct {
	Pending    int
	Processing int
	Delayed    int
	Error      int
	Processed  int
}

// HasOutstandingWork reports whether any descendant stream or data row of
// run id is still in {PENDING, PROCESSING, DELAYED}.
func (r *RunRepository) HasOutstandingWork(ctx context.Context, runID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM integration.streams
			WHERE run_id = $1 AND state IN ($2, $3, $4)
			UNION ALL
			SELECT 1 FROM integration.data
			WHERE run_id = $1 AND state IN ($2, $3)
		)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, runID, domain.StatePending, domain.StateProcessing, domain.StateDelayed)
	if err != nil {
		return false, fmt.Errorf("check outstanding work for run %s: %w", runID, err)
	}
	return exists, nil
}

// CountStreams returns the number of streams under a run, used by the run
// worker to distinguish a fresh run (0 streams, invoke generateStreams)
// from a resume (streams already exist).
func (r *RunRepository) CountStreams(ctx context.Context, runID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM integration.streams WHERE run_id = $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("count streams for run %s: %w", runID, err)
	}
	return count, nil
}

// PendingStreamIDs returns ids of PENDING streams under a run, used to
// re-drive resumed runs without re-invoking generateStreams.
func (r *RunRepository) PendingStreamIDs(ctx context.Context, runID string) ([]string, error) {
	var ids []string
	query := `SELECT id FROM integration.streams WHERE run_id = $1 AND state = $2`
	if err := r.db.SelectContext(ctx, &ids, query, runID, domain.StatePending); err != nil {
		return nil, fmt.Errorf("list pending streams for run %s: %w", runID, err)
	}
	return ids, nil
}

// ProcessingRunIDs returns ids of all runs currently in PROCESSING, the
// candidate set the sweeper checks for completion on each tick.
func (r *RunRepository) ProcessingRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	query := `SELECT id FROM integration.runs WHERE state = $1`
	if err := r.db.SelectContext(ctx, &ids, query, domain.StateProcessing); err != nil {
		return nil, fmt.Errorf("list processing runs: %w", err)
	}
	return ids, nil
}

func (r *RunRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
