package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
)

// State represents the current state of a worker.
type State int32

const (
	StateIdle State = iota
	StateBusy
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// JobHandler processes one decoded queue message. It must be idempotent: the
// same message may be redelivered after a visibility timeout.
type JobHandler func(ctx context.Context, msg queue.Message) error

// Worker executes at most one unit at a time; a Pool coordinates several of
// these to reach the configured concurrency.
type Worker struct {
	id         int
	state      atomic.Int32
	handler    JobHandler
	jobTimeout time.Duration
	logger     logger.Logger

	jobsProcessed atomic.Int64
	jobsSucceeded atomic.Int64
	jobsFailed    atomic.Int64
}

// NewWorker builds an idle Worker.
func NewWorker(id int, handler JobHandler, jobTimeout time.Duration, log logger.Logger) *Worker {
	w := &Worker{id: id, handler: handler, jobTimeout: jobTimeout, logger: log}
	w.state.Store(int32(StateIdle))
	return w
}

func (w *Worker) ID() int      { return w.id }
func (w *Worker) State() State { return State(w.state.Load()) }
func (w *Worker) IsIdle() bool { return w.State() == StateIdle }
func (w *Worker) IsBusy() bool { return w.State() == StateBusy }

// Process runs the handler against env's message under a per-job timeout.
// The message is not deleted here; the caller acks only on success.
func (w *Worker) Process(ctx context.Context, env *queue.Envelope) error {
	if !w.state.CompareAndSwap(int32(StateIdle), int32(StateBusy)) {
		return fmt.Errorf("worker %d: not idle, current state %s", w.id, w.State())
	}
	defer w.state.Store(int32(StateIdle))

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	start := time.Now()
	err := w.handler(jobCtx, env.Message)
	duration := time.Since(start)

	w.jobsProcessed.Add(1)
	if err != nil {
		w.jobsFailed.Add(1)
		w.logger.Error("unit processing failed",
			logger.Int("worker_id", w.id),
			logger.String("message_type", string(env.Message.Type)),
			logger.Duration("duration", duration),
			logger.Error(err),
		)
		return err
	}

	w.jobsSucceeded.Add(1)
	w.logger.Debug("unit processed",
		logger.Int("worker_id", w.id),
		logger.String("message_type", string(env.Message.Type)),
		logger.Duration("duration", duration),
	)
	return nil
}

// Stats reports this worker's lifetime counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		ID:            w.id,
		State:         w.State(),
		JobsProcessed: w.jobsProcessed.Load(),
		JobsSucceeded: w.jobsSucceeded.Load(),
		JobsFailed:    w.jobsFailed.Load(),
	}
}

// WorkerStats holds a worker's lifetime counters.
type WorkerStats struct {
	ID            int
	State         State
	JobsProcessed int64
	JobsSucceeded int64
	JobsFailed    int64
}
