package bootstrap

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/commstream/integration-pipeline/internal/dispatch"
	"github.com/commstream/integration-pipeline/internal/metrics"
	"github.com/commstream/integration-pipeline/internal/platform/circuitbreaker"
	"github.com/commstream/integration-pipeline/internal/platform/health"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/registry"
	"github.com/commstream/integration-pipeline/internal/worker"
)

// Dependencies bundles everything shared across a process's stage(s):
// database, redis, registry, and the dispatch layer built over them. Built
// once per process by NewDependencies and handed to whichever StartXWorker
// functions the binary needs.
type Dependencies struct {
	Config       *Config
	Log          logger.Logger
	DB           *sqlx.DB
	Repositories *Repositories
	Queues       *Queues
	Registry     *registry.Registry
	Dispatch     *dispatch.Deps
	Health       *health.Checker
	Metrics      *metrics.Metrics
}

// Close releases the database and redis connections. Call once on shutdown.
func (d *Dependencies) Close() {
	if err := d.DB.Close(); err != nil {
		d.Log.Error("close database", logger.Error(err))
	}
	if err := d.Queues.Client.Close(); err != nil {
		d.Log.Error("close redis client", logger.Error(err))
	}
}

// NewDependencies runs phases 2-4 of bootstrap: database, redis/queues, and
// the dispatch layer's Deps bundle. The registry starts empty; callers
// register platform handlers on dep.Registry before starting any stage.
func NewDependencies(ctx context.Context, cfg *Config, log logger.Logger, consumerID string) (*Dependencies, error) {
	db, repos, err := SetupDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	queues, err := SetupRedis(ctx, cfg.Redis, cfg.QueuePrefix, consumerID, cfg.Worker)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	m := metrics.New(prometheus.DefaultRegisterer)

	deps := &dispatch.Deps{
		Runs:         repos.Runs,
		Streams:      repos.Streams,
		Data:         repos.Data,
		Integrations: repos.Integrations,
		Registry:     reg,
		RedisClient:  queues.Client,
		RunQueue:     queues.Runs,
		StreamQueue:  queues.Streams,
		DataQueue:    queues.Data,
		Settings:     cfg.settings(),
		Log:          log,
		Metrics:      m,
	}

	checker := health.NewChecker()
	checker.Register(health.NewCheckFunc("database", func(ctx context.Context) error {
		return db.PingContext(ctx)
	}))
	checker.Register(health.NewCheckFunc("redis", func(ctx context.Context) error {
		return queues.Client.Ping(ctx).Err()
	}))
	checker.Register(health.NewCheckFunc("queue_depth", func(ctx context.Context) error {
		_, err := queues.Runs.QueueDepth(ctx)
		return err
	}))

	if status, results := checker.Check(ctx); status != health.StatusHealthy {
		log.Error("dependency health check failed at startup", logger.Any("results", results))
	} else {
		log.Info("dependency health check passed")
	}

	return &Dependencies{
		Config:       cfg,
		Log:          log,
		DB:           db,
		Repositories: repos,
		Queues:       queues,
		Registry:     reg,
		Dispatch:     deps,
		Health:       checker,
		Metrics:      m,
	}, nil
}

// StartRunWorker builds the run stage's worker pool and receive loop.
func StartRunWorker(deps *Dependencies) *worker.Runner {
	return startStage(deps, "run", deps.Queues.Runs, dispatch.NewRunDispatcher(deps.Dispatch).Handle)
}

// StartStreamWorker builds the stream stage's worker pool and receive loop.
func StartStreamWorker(deps *Dependencies) *worker.Runner {
	return startStage(deps, "stream", deps.Queues.Streams, dispatch.NewStreamDispatcher(deps.Dispatch).Handle)
}

// StartDataWorker builds the data stage's worker pool and receive loop.
func StartDataWorker(deps *Dependencies) *worker.Runner {
	return startStage(deps, "data", deps.Queues.Data, dispatch.NewDataDispatcher(deps.Dispatch).Handle)
}

func startStage(deps *Dependencies, stage string, q *queue.Queue, handler worker.JobHandler) *worker.Runner {
	pool, err := worker.NewPool(deps.Config.workerConfig(), handler, q, deps.Log)
	if err != nil {
		deps.Log.Fatal("build worker pool", logger.Error(err))
	}
	pool.WithMetrics(deps.Metrics, stage)

	breakerCfg := deps.Config.Breaker
	breakerCfg.OnStateChange = func(_, to circuitbreaker.State) {
		deps.Metrics.SetCircuitBreakerState(stage, int(to))
	}
	breaker := circuitbreaker.New(breakerCfg)

	return worker.NewRunner(q, pool, deps.Log, deps.Config.Worker.PollInterval, breaker).WithMetrics(deps.Metrics, stage)
}
