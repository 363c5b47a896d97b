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

const streamColumns = `id, run_id, parent_id, tenant_id, integration_id, identifier, data,
	state, delayed_until, retries, error, processed_at, created_at, updated_at`

type streamRow struct {
	ID            string             `db:"id"`
	RunID         string             `db:"run_id"`
	ParentID      sql.NullString     `db:"parent_id"`
	TenantID      string             `db:"tenant_id"`
	IntegrationID string             `db:"integration_id"`
	Identifier    string             `db:"identifier"`
	Data          domain.JSONBMap    `db:"data"`
	State         string             `db:"state"`
	DelayedUntil  sql.NullTime       `db:"delayed_until"`
	Retries       int                `db:"retries"`
	Error         domain.ErrorDetail `db:"error"`
	ProcessedAt   sql.NullTime       `db:"processed_at"`
	CreatedAt     sql.NullTime       `db:"created_at"`
	UpdatedAt     sql.NullTime       `db:"updated_at"`
}

func (s streamRow) toDomain() *domain.Stream {
	stream := &domain.Stream{
		ID:            s.ID,
		RunID:         s.RunID,
		TenantID:      s.TenantID,
		IntegrationID: s.IntegrationID,
		Identifier:    s.Identifier,
		Data:          s.Data,
		State:         domain.State(s.State),
		Retries:       s.Retries,
		Error:         s.Error,
	}
	if s.ParentID.Valid {
		stream.ParentID = &s.ParentID.String
	}
	if s.DelayedUntil.Valid {
		stream.DelayedUntil = &s.DelayedUntil.Time
	}
	if s.ProcessedAt.Valid {
		stream.ProcessedAt = &s.ProcessedAt.Time
	}
	if s.CreatedAt.Valid {
		stream.CreatedAt = s.CreatedAt.Time
	}
	if s.UpdatedAt.Valid {
		stream.UpdatedAt = s.UpdatedAt.Time
	}
	return stream
}

// StreamRepository is the state repository's view over integration.streams.
type StreamRepository struct {
	db *sqlx.DB
}

// NewStreamRepository builds a StreamRepository over db.
func NewStreamRepository(db *sqlx.DB) *StreamRepository {
	return &StreamRepository{db: db}
}

// Create inserts a new PENDING stream. Publishing a duplicate
// (run_id, identifier) is a no-op per the dedupe invariant: the insert is
// guarded by ON CONFLICT DO NOTHING and Create reports whether a row was
// actually inserted.
func (r *StreamRepository) Create(ctx context.Context, stream *domain.Stream) (inserted bool, err error) {
	query := `
		INSERT INTO integration.streams (id, run_id, parent_id, tenant_id, integration_id, identifier, data, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, identifier) DO NOTHING
		RETURNING created_at, updated_at`

	row := r.db.QueryRowContext(ctx, query,
		stream.ID, stream.RunID, stream.ParentID, stream.TenantID, stream.IntegrationID,
		stream.Identifier, stream.Data, stream.State,
	)
	if err := row.Scan(&stream.CreatedAt, &stream.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("create stream: %w", err)
	}
	return true, nil
}

// GetByID loads a stream by id.
func (r *StreamRepository) GetByID(ctx context.Context, id string) (*domain.Stream, error) {
	var row streamRow
	query := `SELECT ` + streamColumns + ` FROM integration.streams WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get stream %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// TransitionToProcessing guards PENDING -> PROCESSING. Re-entry from a
// terminal or already-processing state affects zero rows, which is how
// markStreamInProgress refuses re-entry.
func (r *StreamRepository) TransitionToProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE integration.streams
		SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3`
	return r.execExpectOneRow(ctx, query, id, domain.StateProcessing, domain.StatePending)
}

// TransitionToProcessed guards PROCESSING -> PROCESSED.
func (r *StreamRepository) TransitionToProcessed(ctx context.Context, id string) error {
	query := `
		UPDATE integration.streams
		SET state = $2, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = $3`
	return r.execExpectOneRow(ctx, query, id, domain.StateProcessed, domain.StateProcessing)
}

// TransitionToError guards non-terminal -> ERROR and records the detail.
func (r *StreamRepository) TransitionToError(ctx context.Context, id string, detail domain.ErrorDetail) error {
	query := `
		UPDATE integration.streams
		SET state = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND state NOT IN ($4, $5)`
	return r.execExpectOneRow(ctx, query, id, domain.StateError, detail, domain.StateProcessed, domain.StateError)
}

// TransitionToErrorExhausted guards PROCESSING -> ERROR for the
// retry-budget-exhausted path. retries is the caller's stream.Retries+1: the
// failed attempt that exhausted the budget still counts, so a stream with a
// retry budget of N ends at retries=N+1 when it reaches ERROR this way.
func (r *StreamRepository) TransitionToErrorExhausted(ctx context.Context, id string, retries int, detail domain.ErrorDetail) error {
	query := `
		UPDATE integration.streams
		SET state = $2, retries = $3, error = $4, updated_at = NOW()
		WHERE id = $1 AND state = $5`
	return r.execExpectOneRow(ctx, query, id, domain.StateError, retries, detail, domain.StateProcessing)
}

// ResetForRateLimit resets a stream to PENDING without touching retries, per
// the RateLimitError contract: the pause is charged to the run, not the stream.
func (r *StreamRepository) ResetForRateLimit(ctx context.Context, id string) error {
	query := `
		UPDATE integration.streams
		SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3`
	return r.execExpectOneRow(ctx, query, id, domain.StatePending, domain.StateProcessing)
}

// TransitionToDelayed increments retries and schedules the next linear
// backoff attempt, guarded on PROCESSING.
func (r *StreamRepository) TransitionToDelayed(ctx context.Context, id string, delayedUntil time.Time, detail domain.ErrorDetail) error {
	query := `
		UPDATE integration.streams
		SET state = $2, delayed_until = $3, retries = retries + 1, error = $4, updated_at = NOW()
		WHERE id = $1 AND state = $5`
	return r.execExpectOneRow(ctx, query, id, domain.StateDelayed, delayedUntil, detail, domain.StateProcessing)
}

// PromoteDelayed resets every DELAYED stream whose delayed_until has passed
// back to PENDING, returning their ids for re-enqueue.
func (r *StreamRepository) PromoteDelayed(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE integration.streams
		SET state = $1, updated_at = NOW()
		WHERE state = $2 AND delayed_until <= $3
		RETURNING id`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, domain.StatePending, domain.StateDelayed, now); err != nil {
		return nil, fmt.Errorf("promote delayed streams: %w", err)
	}
	return ids, nil
}

func (r *StreamRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
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
