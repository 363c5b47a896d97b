package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/commstream/integration-pipeline/internal/domain"
)

const dataColumns = `id, stream_id, run_id, tenant_id, data, state, retries, error, created_at, updated_at`

type dataRow struct {
	ID        string             `db:"id"`
	StreamID  string             `db:"stream_id"`
	RunID     string             `db:"run_id"`
	TenantID  string             `db:"tenant_id"`
	Data      domain.JSONBMap    `db:"data"`
	State     string             `db:"state"`
	Retries   int                `db:"retries"`
	Error     domain.ErrorDetail `db:"error"`
	CreatedAt sql.NullTime       `db:"created_at"`
	UpdatedAt sql.NullTime       `db:"updated_at"`
}

func (d dataRow) toDomain() *domain.Data {
	data := &domain.Data{
		ID:       d.ID,
		StreamID: d.StreamID,
		RunID:    d.RunID,
		TenantID: d.TenantID,
		Data:     d.Data,
		State:    domain.State(d.State),
		Retries:  d.Retries,
		Error:    d.Error,
	}
	if d.CreatedAt.Valid {
		data.CreatedAt = d.CreatedAt.Time
	}
	if d.UpdatedAt.Valid {
		data.UpdatedAt = d.UpdatedAt.Time
	}
	return data
}

// DataRepository is the state repository's view over integration.data.
type DataRepository struct {
	db *sqlx.DB
}

// NewDataRepository builds a DataRepository over db.
func NewDataRepository(db *sqlx.DB) *DataRepository {
	return &DataRepository{db: db}
}

// Create inserts a new PENDING data row.
func (r *DataRepository) Create(ctx context.Context, data *domain.Data) error {
	query := `
		INSERT INTO integration.data (id, stream_id, run_id, tenant_id, data, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, data.ID, data.StreamID, data.RunID, data.TenantID, data.Data, data.State).
		Scan(&data.CreatedAt, &data.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create data: %w", err)
	}
	return nil
}

// GetByID loads a data row by id.
func (r *DataRepository) GetByID(ctx context.Context, id string) (*domain.Data, error) {
	var row dataRow
	query := `SELECT ` + dataColumns + ` FROM integration.data WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get data %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// TransitionToProcessing guards PENDING -> PROCESSING.
func (r *DataRepository) TransitionToProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE integration.data
		SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3`
	return r.execExpectOneRow(ctx, query, id, domain.StateProcessing, domain.StatePending)
}

// TransitionToProcessed guards PROCESSING -> PROCESSED.
func (r *DataRepository) TransitionToProcessed(ctx context.Context, id string) error {
	query := `
		UPDATE integration.data
		SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3`
	return r.execExpectOneRow(ctx, query, id, domain.StateProcessed, domain.StateProcessing)
}

// TransitionToError guards non-terminal -> ERROR.
func (r *DataRepository) TransitionToError(ctx context.Context, id string, detail domain.ErrorDetail) error {
	query := `
		UPDATE integration.data
		SET state = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND state NOT IN ($4, $5)`
	return r.execExpectOneRow(ctx, query, id, domain.StateError, detail, domain.StateProcessed, domain.StateError)
}

// TransitionToErrorExhausted guards PROCESSING -> ERROR for the
// retry-budget-exhausted path. retries is the caller's item.Retries+1,
// mirroring StreamRepository's equivalent.
func (r *DataRepository) TransitionToErrorExhausted(ctx context.Context, id string, retries int, detail domain.ErrorDetail) error {
	query := `
		UPDATE integration.data
		SET state = $2, retries = $3, error = $4, updated_at = NOW()
		WHERE id = $1 AND state = $5`
	return r.execExpectOneRow(ctx, query, id, domain.StateError, retries, detail, domain.StateProcessing)
}

// TransitionToRetry increments retries and returns the data row to PENDING
// for the queue's at-least-once redelivery to pick up again. Data has no
// DELAYED state; the retry cap comes from the data-worker's own policy.
func (r *DataRepository) TransitionToRetry(ctx context.Context, id string, detail domain.ErrorDetail) error {
	query := `
		UPDATE integration.data
		SET state = $2, retries = retries + 1, error = $3, updated_at = NOW()
		WHERE id = $1 AND state = $4`
	return r.execExpectOneRow(ctx, query, id, domain.StatePending, detail, domain.StateProcessing)
}

func (r *DataRepository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
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
