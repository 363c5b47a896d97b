package worker

import (
	"context"
	"time"

	"github.com/commstream/integration-pipeline/internal/metrics"
	"github.com/commstream/integration-pipeline/internal/platform/circuitbreaker"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
)

// Receiver is the subset of *queue.Queue the runner needs.
type Receiver interface {
	Receive(ctx context.Context) (*queue.Envelope, error)
}

// Runner is the per-process receive loop: it polls a queue and feeds
// messages into a Pool, backing off when the pool is full or the queue is
// unavailable rather than busy-spinning.
type Runner struct {
	queue   Receiver
	pool    *Pool
	log     logger.Logger
	backoff time.Duration
	breaker *circuitbreaker.Breaker
	metrics *metrics.Metrics
	stage   string
}

// WithMetrics attaches a metrics sink and stage label, reporting pool
// occupancy on every poll iteration. Optional; a Runner with no metrics
// attached skips reporting entirely.
func (r *Runner) WithMetrics(m *metrics.Metrics, stage string) *Runner {
	r.metrics = m
	r.stage = stage
	return r
}

// NewRunner builds a Runner. breaker may be nil to disable circuit breaking
// on the queue backend.
func NewRunner(q Receiver, pool *Pool, log logger.Logger, backoff time.Duration, breaker *circuitbreaker.Breaker) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	if backoff <= 0 {
		backoff = DefaultPollBackoff
	}
	return &Runner{queue: q, pool: pool, log: log, backoff: backoff, breaker: breaker}
}

// Run blocks until ctx is cancelled, at which point it drains the pool and
// returns.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.pool.Start(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return r.pool.Stop(stopCtx)
		default:
		}

		stats := r.pool.Stats()
		r.metrics.SetPoolStats(r.stage, stats.PoolSize, stats.BusyWorkers, stats.IdleWorkers)

		if r.pool.BusyCount() >= r.pool.Size() {
			sleep(ctx, r.backoff)
			continue
		}

		env, err := r.receive(ctx)
		if err != nil {
			r.log.Error("receive failed", logger.Error(err))
			sleep(ctx, r.backoff)
			continue
		}
		if env == nil {
			continue
		}

		if err := r.pool.Submit(ctx, env); err != nil {
			r.log.Error("submit failed", logger.Error(err))
		}
	}
}

func (r *Runner) receive(ctx context.Context) (*queue.Envelope, error) {
	if r.breaker == nil {
		return r.queue.Receive(ctx)
	}

	var env *queue.Envelope
	err := r.breaker.Execute(ctx, func() error {
		e, receiveErr := r.queue.Receive(ctx)
		env = e
		return receiveErr
	})
	return env, err
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
