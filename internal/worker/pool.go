package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commstream/integration-pipeline/internal/metrics"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
)

// PoolState is the lifecycle state of a Pool.
type PoolState int32

const (
	PoolStateStopped PoolState = iota
	PoolStateRunning
	PoolStateDraining
)

func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Acker deletes a successfully processed message so it is not redelivered.
// It is the *queue.Queue in production and a fake in tests.
type Acker interface {
	DeleteMessage(ctx context.Context, receiptHandle string) error
}

// Pool bounds concurrent unit processing to config.PoolSize and acks each
// message on success, per the receiver-loop contract.
type Pool struct {
	config  Config
	workers []*Worker
	handler JobHandler
	acker   Acker
	logger  logger.Logger
	state   atomic.Int32
	sem     chan struct{}
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex

	totalProcessed atomic.Int64
	totalSucceeded atomic.Int64
	totalFailed    atomic.Int64

	metrics *metrics.Metrics
	stage   string
}

// WithMetrics attaches a metrics sink and stage label, recording
// jobs_processed_total/job_duration_seconds for every unit this pool
// completes. Optional; a Pool with none attached skips reporting.
func (p *Pool) WithMetrics(m *metrics.Metrics, stage string) *Pool {
	p.metrics = m
	p.stage = stage
	return p
}

// NewPool builds a Pool. handler runs one unit; acker acknowledges the
// message once handler returns nil.
func NewPool(cfg Config, handler JobHandler, acker Acker, log logger.Logger) (*Pool, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Pool{
		config:  cfg,
		handler: handler,
		acker:   acker,
		logger:  log,
		workers: make([]*Worker, cfg.PoolSize),
		sem:     make(chan struct{}, cfg.PoolSize),
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		p.workers[i] = NewWorker(i, handler, cfg.JobTimeout, log)
	}
	p.state.Store(int32(PoolStateStopped))
	return p, nil
}

// Start marks the pool running.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}
	p.logger.Info("worker pool started", logger.Int("pool_size", p.config.PoolSize))
	return nil
}

// Stop drains in-flight units, waiting up to config.DrainTimeout or ctx.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return errors.New("pool is not running")
	}
	p.logger.Info("worker pool draining")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out")
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn("worker pool drain timeout exceeded")
	}

	p.state.Store(int32(PoolStateStopped))
	return nil
}

// Submit dispatches env to an idle worker, blocking until a slot frees up,
// ctx is cancelled, or the pool starts stopping.
func (p *Pool) Submit(ctx context.Context, env *queue.Envelope) error {
	if p.State() != PoolStateRunning {
		return errors.New("pool is not running")
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return errors.New("pool is stopping")
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		w := p.acquireWorker()
		if w == nil {
			p.logger.Error("no idle worker available despite free semaphore slot",
				logger.String("message_type", string(env.Message.Type)))
			return
		}

		start := time.Now()
		err := w.Process(ctx, env)
		duration := time.Since(start)
		p.totalProcessed.Add(1)
		if err != nil {
			p.totalFailed.Add(1)
			p.metrics.RecordJob(p.stage, "error", duration.Seconds())
			return
		}
		p.totalSucceeded.Add(1)
		p.metrics.RecordJob(p.stage, "success", duration.Seconds())

		if ackErr := p.acker.DeleteMessage(ctx, env.ReceiptHandle); ackErr != nil {
			p.logger.Error("failed to ack processed message",
				logger.String("receipt_handle", env.ReceiptHandle), logger.Error(ackErr))
		}
	}()

	return nil
}

func (p *Pool) acquireWorker() *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.workers {
		if w.IsIdle() {
			return w
		}
	}
	return nil
}

func (p *Pool) State() PoolState { return PoolState(p.state.Load()) }
func (p *Pool) IsRunning() bool  { return p.State() == PoolStateRunning }
func (p *Pool) Size() int        { return p.config.PoolSize }

// BusyCount returns the number of workers currently processing a unit.
func (p *Pool) BusyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for _, w := range p.workers {
		if w.IsBusy() {
			count++
		}
	}
	return count
}

// IdleCount returns the number of workers available to accept work.
func (p *Pool) IdleCount() int { return p.Size() - p.BusyCount() }

// Stats reports pool-wide counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		State:         p.State(),
		PoolSize:      p.config.PoolSize,
		BusyWorkers:   p.BusyCount(),
		IdleWorkers:   p.IdleCount(),
		JobsProcessed: p.totalProcessed.Load(),
		JobsSucceeded: p.totalSucceeded.Load(),
		JobsFailed:    p.totalFailed.Load(),
	}
}

// PoolStats holds pool-wide counters.
type PoolStats struct {
	State         PoolState
	PoolSize      int
	BusyWorkers   int
	IdleWorkers   int
	JobsProcessed int64
	JobsSucceeded int64
	JobsFailed    int64
}
