package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/commstream/integration-pipeline/internal/domain"
)

type integrationRow struct {
	ID         string          `db:"id"`
	TenantID   string          `db:"tenant_id"`
	Platform   string          `db:"platform"`
	Identifier sql.NullString  `db:"identifier"`
	Status     string          `db:"status"`
	Settings   domain.JSONBMap `db:"settings"`
	DeletedAt  sql.NullTime    `db:"deleted_at"`
}

func (i integrationRow) toDomain() *domain.Integration {
	out := &domain.Integration{
		ID:       i.ID,
		TenantID: i.TenantID,
		Platform: i.Platform,
		Status:   domain.IntegrationStatus(i.Status),
		Settings: i.Settings,
	}
	if i.Identifier.Valid {
		out.Identifier = i.Identifier.String
	}
	if i.DeletedAt.Valid {
		out.DeletedAt = &i.DeletedAt.Time
	}
	return out
}

// IntegrationRepository is the pipeline's read-mostly view over the
// externally-owned integrations table, plus the one mutation it is allowed:
// merging partial settings.
type IntegrationRepository struct {
	db *sqlx.DB
}

// NewIntegrationRepository builds an IntegrationRepository over db.
func NewIntegrationRepository(db *sqlx.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// GetByID loads an integration by id, including soft-deleted rows so callers
// can distinguish "missing" from "deleted" per the run-check-integration step.
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*domain.Integration, error) {
	var row integrationRow
	query := `SELECT id, tenant_id, platform, identifier, status, settings, deleted_at
		FROM integrations WHERE id = $1`

	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get integration %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// MergeSettings performs a server-side shallow jsonb merge (`settings ||
// $partial`) so concurrent top-level key updates from sibling streams do
// not clobber each other. Two streams writing the same top-level key still
// race; that is accepted per the spec's concurrency model.
func (r *IntegrationRepository) MergeSettings(ctx context.Context, integrationID string, partial domain.JSONBMap) error {
	query := `UPDATE integrations SET settings = settings || $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, integrationID, partial)
	if err != nil {
		return fmt.Errorf("merge integration settings: %w", err)
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
