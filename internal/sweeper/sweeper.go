// Package sweeper implements the delay/resume background loop: it
// promotes DELAYED runs and streams whose delayedUntil has passed back to
// PENDING and re-enqueues them, and moves a PROCESSING run to PROCESSED once
// none of its streams or data remain outstanding. Runs reach ERROR in the
// dispatchers, not here.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/commstream/integration-pipeline/internal/database"
	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/metrics"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
)

const (
	defaultInterval = 30 * time.Second
)

// Config controls the sweeper's tick interval.
type Config struct {
	Interval time.Duration
}

// SetDefaults fills unset fields with their default values.
func (c *Config) SetDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
}

// Sweeper is the process-wide delay/resume loop. It owns no queue
// consumer identity of its own; it only promotes rows and republishes ids
// onto the same stage queues the workers consume from.
type Sweeper struct {
	runs    *database.RunRepository
	streams *database.StreamRepository
	runQ    *queue.Queue
	streamQ *queue.Queue
	log     logger.Logger
	cfg     Config
	metrics *metrics.Metrics

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// WithMetrics attaches a metrics sink. Optional; a Sweeper with none
// attached skips reporting.
func (s *Sweeper) WithMetrics(m *metrics.Metrics) *Sweeper {
	s.metrics = m
	return s
}

// New builds a Sweeper. runQ and streamQ must be the same queue instances
// the run and stream workers receive from.
func New(runs *database.RunRepository, streams *database.StreamRepository, runQ, streamQ *queue.Queue, log logger.Logger, cfg Config) *Sweeper {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Sweeper{
		runs:    runs,
		streams: streams,
		runQ:    runQ,
		streamQ: streamQ,
		log:     log,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the promotion loop and the completion loop as separate
// tickers, mirroring the run/cleanup/recovery split of a polling worker.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runPromotionLoop(ctx)
	go s.runCompletionLoop(ctx)

	s.log.Info("sweeper started", logger.Duration("interval", s.cfg.Interval))
}

// Stop signals both loops to exit and waits for them to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("sweeper stopped")
}

func (s *Sweeper) runPromotionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.promoteOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) runCompletionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkCompletionOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// promoteOnce promotes DELAYED runs and streams past their delayedUntil and
// republishes their ids onto the owning queue. Promoting an already-pending
// item affects zero rows, so this is safe to run overlapping the workers.
func (s *Sweeper) promoteOnce(ctx context.Context) {
	now := time.Now()

	runIDs, err := s.runs.PromoteDelayed(ctx, now)
	if err != nil {
		s.log.Error("promote delayed runs failed", logger.Error(err))
	}
	for _, id := range runIDs {
		s.republishRun(ctx, id)
		s.metrics.RecordPromotion("run")
	}

	streamIDs, err := s.streams.PromoteDelayed(ctx, now)
	if err != nil {
		s.log.Error("promote delayed streams failed", logger.Error(err))
	}
	for _, id := range streamIDs {
		s.republishStream(ctx, id)
		s.metrics.RecordPromotion("stream")
	}

	if len(runIDs) > 0 || len(streamIDs) > 0 {
		s.log.Info("promoted delayed work", logger.Int("runs", len(runIDs)), logger.Int("streams", len(streamIDs)))
	}
}

func (s *Sweeper) republishRun(ctx context.Context, id string) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("load promoted run failed", logger.String("run_id", id), logger.Error(err))
		}
		return
	}
	if _, err := s.runQ.Send(ctx, run.TenantID, queue.NewProcessRunMessage(run.TenantID, run.ID)); err != nil {
		s.log.Error("republish promoted run failed", logger.String("run_id", id), logger.Error(err))
	}
}

func (s *Sweeper) republishStream(ctx context.Context, id string) {
	stream, err := s.streams.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("load promoted stream failed", logger.String("stream_id", id), logger.Error(err))
		}
		return
	}
	if _, err := s.streamQ.Send(ctx, stream.TenantID, queue.NewProcessStreamMessage(stream.TenantID, stream.ID)); err != nil {
		s.log.Error("republish promoted stream failed", logger.String("stream_id", id), logger.Error(err))
	}
}

// checkCompletionOnce scans PROCESSING runs and finalizes those with no
// outstanding stream or data work.
func (s *Sweeper) checkCompletionOnce(ctx context.Context) {
	runIDs, err := s.runs.ProcessingRunIDs(ctx)
	if err != nil {
		s.log.Error("list processing runs failed", logger.Error(err))
		return
	}

	for _, id := range runIDs {
		s.finalizeIfComplete(ctx, id)
	}
}

// finalizeIfComplete marks a run PROCESSED once none of its streams or data
// remain outstanding. Retry-budget exhaustion and RunAbortError already fail
// the owning run synchronously in the dispatcher, which removes it from
// ProcessingRunIDs before the sweeper ever sees it; a still-PROCESSING run
// with a drained work queue is done, even if one of its streams stopped via
// an abort that is terminal for that stream alone.
func (s *Sweeper) finalizeIfComplete(ctx context.Context, runID string) {
	outstanding, err := s.runs.HasOutstandingWork(ctx, runID)
	if err != nil {
		s.log.Error("check outstanding work failed", logger.String("run_id", runID), logger.Error(err))
		return
	}
	if outstanding {
		return
	}

	if err := s.runs.TransitionToProcessed(ctx, runID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Error("finalize run failed", logger.String("run_id", runID), logger.Error(err))
		return
	}
	s.metrics.RecordTransition("run", string(domain.StateProcessed))
}
