package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/commstream/integration-pipeline/internal/platform/config"
	"github.com/commstream/integration-pipeline/internal/platform/retry"
	"github.com/commstream/integration-pipeline/internal/queue"
)

const pingTimeout = 5 * time.Second

// Queues bundles the three stage queues, all backed by one redis client.
type Queues struct {
	Client  *redis.Client
	Runs    *queue.Queue
	Streams *queue.Queue
	Data    *queue.Queue
}

// SetupRedis dials redis and initializes the run/stream/data queues. The
// initial ping runs under retry.Retry for the same reason SetupDatabase's
// connect does: redis may still be coming up when the process starts.
func SetupRedis(ctx context.Context, cfg config.RedisConfig, queuePrefix, consumerID string, workerCfg config.WorkerConfig) (*Queues, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := retry.RetryWithDefaults(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return rc.Ping(pingCtx).Err()
	})
	if err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	client := queue.NewStreamsClientFromRedis(rc, queuePrefix)

	qCfg := func(stage string) queue.Config {
		return queue.Config{
			Stage:             stage,
			ConsumerID:        consumerID,
			VisibilityTimeout: workerCfg.VisibilityTimeout,
			ReceiveBlock:      workerCfg.PollInterval,
			MaxReceiveCount:   int64(workerCfg.MaxReceiveCount),
		}
	}

	runQ := queue.New(client, qCfg("runs"))
	streamQ := queue.New(client, qCfg("streams"))
	dataQ := queue.New(client, qCfg("data"))

	for _, q := range []*queue.Queue{runQ, streamQ, dataQ} {
		if err := q.Init(ctx); err != nil {
			return nil, fmt.Errorf("init queue: %w", err)
		}
	}

	return &Queues{Client: rc, Runs: runQ, Streams: streamQ, Data: dataQ}, nil
}
