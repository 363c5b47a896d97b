package dispatch

import (
	"context"
	"errors"

	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/registry"
)

// DataDispatcher implements the data worker's dispatch logic. It
// mirrors StreamDispatcher at a lower level: processData may reach the sink
// and update settings, but never publishes further streams or data.
type DataDispatcher struct {
	deps *Deps
}

// NewDataDispatcher builds a DataDispatcher over deps.
func NewDataDispatcher(deps *Deps) *DataDispatcher {
	return &DataDispatcher{deps: deps}
}

// Handle processes one process_data message.
func (d *DataDispatcher) Handle(ctx context.Context, msg queue.Message) error {
	log := d.deps.Log.With(logger.String("data_id", msg.DataID))

	item, err := d.deps.Data.GetByID(ctx, msg.DataID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("data not found, dropping message")
			return nil
		}
		return err
	}

	if domain.IsTerminal(item.State) {
		log.Debug("data already terminal, skipping re-delivery")
		return nil
	}

	run, err := d.deps.Runs.GetByID(ctx, item.RunID)
	if err != nil {
		return err
	}
	if run.State != domain.StateProcessing {
		_ = d.deps.Data.TransitionToError(ctx, item.ID, domain.ErrorDetail{
			Location: "check-data-run-state",
			Message:  "owning run is not PROCESSING",
		})
		return &domain.MissingDependencyError{Location: "check-data-run-state", Message: "run not processing"}
	}

	integration, snapshot, err := d.deps.integrationSnapshot(ctx, run.IntegrationID)
	if err != nil || !integration.IsUsable() {
		_ = d.deps.Data.TransitionToError(ctx, item.ID, domain.ErrorDetail{
			Location: "check-data-run-state",
			Message:  "integration unavailable",
		})
		return &domain.MissingDependencyError{Location: "check-data-run-state", Message: "integration unavailable"}
	}

	handler, ok := d.deps.Registry.Lookup(integration.Platform)
	if !ok || handler.ProcessData == nil {
		_ = d.deps.Data.TransitionToError(ctx, item.ID, domain.ErrorDetail{
			Location: "check-data-run-state",
			Message:  "no processData handler for platform " + integration.Platform,
		})
		return registry.ErrPlatformUnregistered{Platform: integration.Platform}
	}

	if err := d.deps.Data.TransitionToProcessing(ctx, item.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	dataCtx := registry.NewDataContext(ctx, log, d.deps.cacheFor(item.RunID), snapshot, run.Onboarding, item.Data,
		func(ctx context.Context, partial domain.JSONBMap) error {
			return d.deps.Integrations.MergeSettings(ctx, integration.ID, partial)
		})

	handlerErr := handler.ProcessData(dataCtx)
	if handlerErr == nil {
		if err := d.deps.Data.TransitionToProcessed(ctx, item.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		d.deps.Metrics.RecordTransition("data", string(domain.StateProcessed))
		return nil
	}

	return d.handleDataError(ctx, item, handlerErr)
}

func (d *DataDispatcher) handleDataError(ctx context.Context, item *domain.Data, handlerErr error) error {
	var handlerAbort *domain.HandlerAbortError
	if errors.As(handlerErr, &handlerAbort) {
		_ = d.deps.Data.TransitionToError(ctx, item.ID, domain.ErrorDetail{Location: "process-data", Message: handlerAbort.Message, Metadata: handlerAbort.Metadata})
		return handlerErr
	}

	var runAbort *domain.RunAbortError
	if errors.As(handlerErr, &runAbort) {
		_ = d.deps.Data.TransitionToError(ctx, item.ID, domain.ErrorDetail{Location: "process-data", Message: runAbort.Message, Metadata: runAbort.Metadata})
		_ = d.deps.Runs.TransitionToError(ctx, item.RunID, domain.ErrorDetail{Location: "process-data", Message: runAbort.Message, Metadata: runAbort.Metadata})
		return handlerErr
	}

	detail := domain.ErrorDetail{Location: "process-data", Message: handlerErr.Error()}

	if item.ExhaustedRetries(d.deps.Settings.MaxDataRetries) {
		_ = d.deps.Data.TransitionToErrorExhausted(ctx, item.ID, item.Retries+1, detail)
		d.deps.Metrics.RecordTransition("data", string(domain.StateError))
		return handlerErr
	}

	if err := d.deps.Data.TransitionToRetry(ctx, item.ID, detail); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	d.deps.Metrics.RecordTransition("data", "RETRY")
	return handlerErr
}
