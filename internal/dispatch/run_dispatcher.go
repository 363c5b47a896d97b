package dispatch

import (
	"context"
	"errors"

	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/registry"
)

// RunDispatcher implements the run worker's dispatch logic.
type RunDispatcher struct {
	deps *Deps
}

// NewRunDispatcher builds a RunDispatcher over deps.
func NewRunDispatcher(deps *Deps) *RunDispatcher {
	return &RunDispatcher{deps: deps}
}

// Handle processes one process_run message.
func (d *RunDispatcher) Handle(ctx context.Context, msg queue.Message) error {
	log := d.deps.Log.With(logger.String("run_id", msg.RunID))

	run, err := d.deps.Runs.GetByID(ctx, msg.RunID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("run not found, dropping message")
			return nil
		}
		return err
	}

	if domain.IsTerminal(run.State) {
		log.Debug("run already terminal, skipping re-delivery")
		return nil
	}

	integration, snapshot, err := d.deps.integrationSnapshot(ctx, run.IntegrationID)
	if err != nil || !integration.IsUsable() {
		_ = d.deps.Runs.TransitionToError(ctx, run.ID, domain.ErrorDetail{
			Location: "run-check-integration",
			Message:  "owning integration is missing or deleted",
		})
		return &domain.MissingDependencyError{Location: "run-check-integration", Message: "integration unavailable"}
	}

	handler, ok := d.deps.Registry.Lookup(integration.Platform)
	if !ok {
		_ = d.deps.Runs.TransitionToError(ctx, run.ID, domain.ErrorDetail{
			Location: "run-check-handler",
			Message:  "no handler registered for platform " + integration.Platform,
		})
		return registry.ErrPlatformUnregistered{Platform: integration.Platform}
	}

	streamCount, err := d.deps.Runs.CountStreams(ctx, run.ID)
	if err != nil {
		return err
	}
	if streamCount > 0 {
		return d.redriveResume(ctx, run, log)
	}

	if err := d.deps.Runs.TransitionToProcessing(ctx, run.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Already advanced past PENDING/DELAYED by a concurrent delivery.
			return nil
		}
		return err
	}
	d.deps.Metrics.RecordTransition("run", string(domain.StateProcessing))

	runCtx := registry.NewRunContext(ctx, log, d.deps.cacheFor(run.ID), snapshot, run.Onboarding,
		func(ctx context.Context, identifier string, data domain.JSONBMap) error {
			return d.publishRootStream(ctx, run, identifier, data)
		})

	if handler.GenerateStreams == nil {
		_ = d.deps.Runs.TransitionToError(ctx, run.ID, domain.ErrorDetail{
			Location: "run-generate-streams",
			Message:  "platform " + integration.Platform + " has no generateStreams handler",
		})
		return registry.ErrPlatformUnregistered{Platform: integration.Platform}
	}

	if err := handler.GenerateStreams(runCtx); err != nil {
		_ = d.deps.Runs.TransitionToError(ctx, run.ID, domain.ErrorDetail{
			Location: "run-generate-streams",
			Message:  err.Error(),
		})
		d.deps.Metrics.RecordTransition("run", string(domain.StateError))
		return err
	}

	return nil
}

// redriveResume re-publishes PENDING streams without re-invoking
// generateStreams. The run may still be PENDING or DELAYED here (the
// sweeper promotes a DELAYED run back to PENDING and re-enqueues it before
// its streams are re-driven), so this brings it back to PROCESSING first.
func (d *RunDispatcher) redriveResume(ctx context.Context, run *domain.Run, log logger.Logger) error {
	if err := d.deps.Runs.TransitionToProcessing(ctx, run.ID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		// Already PROCESSING from a concurrent redelivery; still redrive.
	} else {
		d.deps.Metrics.RecordTransition("run", string(domain.StateProcessing))
	}

	ids, err := d.deps.Runs.PendingStreamIDs(ctx, run.ID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := d.deps.StreamQueue.Send(ctx, run.TenantID, queue.NewProcessStreamMessage(run.TenantID, id)); err != nil {
			return err
		}
	}
	log.Debug("resumed run, re-drove pending streams", logger.Int("count", len(ids)))
	return nil
}

func (d *RunDispatcher) publishRootStream(ctx context.Context, run *domain.Run, identifier string, data domain.JSONBMap) error {
	stream := domain.NewRootStream(newID(), run.ID, run.TenantID, run.IntegrationID, identifier, data)
	inserted, err := d.deps.Streams.Create(ctx, stream)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	_, err = d.deps.StreamQueue.Send(ctx, run.TenantID, queue.NewProcessStreamMessage(run.TenantID, stream.ID))
	return err
}
