package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/commstream/integration-pipeline/internal/database"
	"github.com/commstream/integration-pipeline/internal/platform/config"
	"github.com/commstream/integration-pipeline/internal/platform/retry"
)

// Repositories bundles the state repository's four tables.
type Repositories struct {
	Runs         *database.RunRepository
	Streams      *database.StreamRepository
	Data         *database.DataRepository
	Integrations *database.IntegrationRepository
}

// SetupDatabase connects to PostgreSQL and builds every repository over it.
// The initial connect attempt runs under retry.Retry since Postgres often
// isn't accepting connections yet in the first seconds after a deploy.
func SetupDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, *Repositories, error) {
	var db *sqlx.DB
	err := retry.RetryWithDefaults(ctx, func() error {
		conn, connErr := database.Connect(cfg)
		if connErr != nil {
			return connErr
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}

	return db, &Repositories{
		Runs:         database.NewRunRepository(db),
		Streams:      database.NewStreamRepository(db),
		Data:         database.NewDataRepository(db),
		Integrations: database.NewIntegrationRepository(db),
	}, nil
}
