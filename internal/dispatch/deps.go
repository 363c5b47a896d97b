// Package dispatch implements the run/stream/data worker dispatch logic:
// load the unit, check ownership preconditions, resolve the platform
// handler, invoke it, and apply the retry/rate-limit/error policy from the
// error taxonomy.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/commstream/integration-pipeline/internal/cache"
	"github.com/commstream/integration-pipeline/internal/database"
	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/metrics"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/registry"
)

// Settings holds the worker settings configuration entity: retry caps
// and cache TTL. Queue visibility timeout and concurrency live in
// worker.Config instead, since they are per-process, not per-domain.
type Settings struct {
	MaxStreamRetries int
	MaxDataRetries   int
	CacheTTL         time.Duration
}

// DefaultSettings returns conservative defaults.
func DefaultSettings() Settings {
	return Settings{MaxStreamRetries: 5, MaxDataRetries: 5, CacheTTL: time.Hour}
}

// Deps bundles everything a dispatcher needs to load state, invoke a
// handler, and publish the resulting work.
type Deps struct {
	Runs         *database.RunRepository
	Streams      *database.StreamRepository
	Data         *database.DataRepository
	Integrations *database.IntegrationRepository
	Registry     *registry.Registry
	RedisClient  *redis.Client
	RunQueue     *queue.Queue
	StreamQueue  *queue.Queue
	DataQueue    *queue.Queue
	Settings     Settings
	Log          logger.Logger
	Metrics      *metrics.Metrics
}

func (d *Deps) cacheFor(runID string) *cache.RunCache {
	return cache.New(d.RedisClient, runID, d.Settings.CacheTTL, d.Log)
}

func newID() string {
	return uuid.NewString()
}

// integrationSnapshot loads an integration and returns both the domain
// value (for status checks) and the handler-facing immutable snapshot.
func (d *Deps) integrationSnapshot(ctx context.Context, id string) (*domain.Integration, domain.Snapshot, error) {
	integration, err := d.Integrations.GetByID(ctx, id)
	if err != nil {
		return nil, domain.Snapshot{}, err
	}
	return integration, domain.NewSnapshot(integration), nil
}
