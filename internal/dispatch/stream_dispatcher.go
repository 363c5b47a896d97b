package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/registry"
)

// StreamDispatcher implements the stream worker's dispatch logic.
type StreamDispatcher struct {
	deps *Deps
}

// NewStreamDispatcher builds a StreamDispatcher over deps.
func NewStreamDispatcher(deps *Deps) *StreamDispatcher {
	return &StreamDispatcher{deps: deps}
}

// Handle processes one process_stream message.
func (d *StreamDispatcher) Handle(ctx context.Context, msg queue.Message) error {
	log := d.deps.Log.With(logger.String("stream_id", msg.StreamID))

	stream, err := d.deps.Streams.GetByID(ctx, msg.StreamID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("stream not found, dropping message")
			return nil
		}
		return err
	}

	if domain.IsTerminal(stream.State) {
		log.Debug("stream already terminal, skipping re-delivery")
		return nil
	}

	run, err := d.deps.Runs.GetByID(ctx, stream.RunID)
	if err != nil {
		return err
	}
	if run.State != domain.StateProcessing {
		_ = d.deps.Streams.TransitionToError(ctx, stream.ID, domain.ErrorDetail{
			Location: "check-stream-run-state",
			Message:  "owning run is not PROCESSING",
		})
		return &domain.MissingDependencyError{Location: "check-stream-run-state", Message: "run not processing"}
	}

	integration, snapshot, err := d.deps.integrationSnapshot(ctx, stream.IntegrationID)
	if err != nil || !integration.IsUsable() {
		_ = d.deps.Streams.TransitionToError(ctx, stream.ID, domain.ErrorDetail{
			Location: "check-stream-run-state",
			Message:  "integration unavailable",
		})
		return &domain.MissingDependencyError{Location: "check-stream-run-state", Message: "integration unavailable"}
	}

	handler, ok := d.deps.Registry.Lookup(integration.Platform)
	if !ok || handler.ProcessStream == nil {
		_ = d.deps.Streams.TransitionToError(ctx, stream.ID, domain.ErrorDetail{
			Location: "check-stream-run-state",
			Message:  "no processStream handler for platform " + integration.Platform,
		})
		return registry.ErrPlatformUnregistered{Platform: integration.Platform}
	}

	if err := d.deps.Streams.TransitionToProcessing(ctx, stream.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	streamCtx := registry.NewStreamContext(
		ctx, log, d.deps.cacheFor(stream.RunID), snapshot, run.Onboarding,
		registry.StreamRef{Identifier: stream.Identifier, Type: stream.Type(), Data: stream.Data},
		func(ctx context.Context, identifier string, data domain.JSONBMap) error {
			return d.publishChildStream(ctx, stream, identifier, data)
		},
		func(ctx context.Context, payload domain.JSONBMap) error {
			return d.publishData(ctx, stream, payload)
		},
		func(ctx context.Context, partial domain.JSONBMap) error {
			return d.deps.Integrations.MergeSettings(ctx, integration.ID, partial)
		},
	)

	handlerErr := handler.ProcessStream(streamCtx)
	if handlerErr == nil {
		if err := d.deps.Streams.TransitionToProcessed(ctx, stream.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		d.deps.Metrics.RecordTransition("stream", string(domain.StateProcessed))
		return nil
	}

	return d.handleStreamError(ctx, stream, run, handlerErr)
}

func (d *StreamDispatcher) handleStreamError(ctx context.Context, stream *domain.Stream, run *domain.Run, handlerErr error) error {
	var rateLimit *domain.RateLimitError
	if errors.As(handlerErr, &rateLimit) {
		if err := d.deps.Streams.ResetForRateLimit(ctx, stream.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		delayedUntil := time.Now().Add(time.Duration(rateLimit.RateLimitResetSeconds) * time.Second)
		if err := d.deps.Runs.TransitionToDelayed(ctx, run.ID, delayedUntil); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		d.deps.Metrics.RecordTransition("run", string(domain.StateDelayed))
		return handlerErr
	}

	var runAbort *domain.RunAbortError
	if errors.As(handlerErr, &runAbort) {
		_ = d.deps.Streams.TransitionToError(ctx, stream.ID, domain.ErrorDetail{Location: "process-stream", Message: runAbort.Message, Metadata: runAbort.Metadata})
		_ = d.deps.Runs.TransitionToError(ctx, run.ID, domain.ErrorDetail{Location: "process-stream", Message: runAbort.Message, Metadata: runAbort.Metadata})
		return handlerErr
	}

	var handlerAbort *domain.HandlerAbortError
	if errors.As(handlerErr, &handlerAbort) {
		_ = d.deps.Streams.TransitionToError(ctx, stream.ID, domain.ErrorDetail{Location: "process-stream", Message: handlerAbort.Message, Metadata: handlerAbort.Metadata})
		return handlerErr
	}

	detail := domain.ErrorDetail{Location: "process-stream", Message: handlerErr.Error()}

	if stream.ExhaustedRetries(d.deps.Settings.MaxStreamRetries) {
		_ = d.deps.Streams.TransitionToErrorExhausted(ctx, stream.ID, stream.Retries+1, detail)
		_ = d.deps.Runs.TransitionToError(ctx, run.ID, domain.ErrorDetail{Location: "stream-run-stop", Message: "stream retry budget exhausted"})
		d.deps.Metrics.RecordTransition("stream", string(domain.StateError))
		return handlerErr
	}

	delayedUntil := time.Now().Add(stream.NextBackoff())
	if err := d.deps.Streams.TransitionToDelayed(ctx, stream.ID, delayedUntil, detail); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	d.deps.Metrics.RecordTransition("stream", string(domain.StateDelayed))
	return handlerErr
}

func (d *StreamDispatcher) publishChildStream(ctx context.Context, parent *domain.Stream, identifier string, data domain.JSONBMap) error {
	child := domain.NewChildStream(newID(), parent.RunID, parent.TenantID, parent.IntegrationID, identifier, data, parent.ID)
	inserted, err := d.deps.Streams.Create(ctx, child)
	if err != nil {
		return err
	}
	if !inserted {
		return nil
	}
	_, err = d.deps.StreamQueue.Send(ctx, parent.TenantID, queue.NewProcessStreamMessage(parent.TenantID, child.ID))
	return err
}

func (d *StreamDispatcher) publishData(ctx context.Context, stream *domain.Stream, payload domain.JSONBMap) error {
	item := domain.NewData(newID(), stream.ID, stream.RunID, stream.TenantID, payload)
	if err := d.deps.Data.Create(ctx, item); err != nil {
		return err
	}
	_, err := d.deps.DataQueue.Send(ctx, stream.TenantID, queue.NewProcessDataMessage(stream.TenantID, item.ID))
	return err
}
