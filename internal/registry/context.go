// Package registry holds the process-wide table of platform handlers and the
// context objects the pipeline passes to them. Handlers are the
// only pluggable surface of the system: everything else in the pipeline is
// fixed dispatch machinery.
package registry

import (
	"context"

	"github.com/commstream/integration-pipeline/internal/cache"
	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/platform/logger"
)

// StreamRef is the stream-shaped view a stream handler receives: its own
// identifier, ROOT/CHILD type, and the opaque pagination state it stored on
// its previous invocation.
type StreamRef struct {
	Identifier string
	Type       domain.StreamType
	Data       domain.JSONBMap
}

// RunContext is passed to generateStreams. It exposes just enough to seed
// root streams; a run has no data or update-settings need of its own beyond
// what publishing implies.
type RunContext struct {
	Ctx         context.Context
	Log         logger.Logger
	Cache       *cache.RunCache
	Integration domain.Snapshot
	Onboarding  bool

	publishStream func(ctx context.Context, identifier string, data domain.JSONBMap) error
}

// PublishStream persists a new root stream under the current run and
// enqueues it for the stream worker. Calling it with an identifier already
// used by a sibling stream under this run is a no-op (dedupe invariant).
func (c *RunContext) PublishStream(identifier string, data domain.JSONBMap) error {
	return c.publishStream(c.Ctx, identifier, data)
}

// AbortWithError terminates the run as ERROR with the given diagnostic. It
// returns a RunAbortError for the handler to propagate with `return`.
func (c *RunContext) AbortWithError(message string, metadata map[string]any) error {
	return &domain.RunAbortError{Message: message, Metadata: metadata}
}

// NewRunContext is called by the run worker to build the handler-facing
// context; publishStream is a closure capturing the worker's repositories
// and queue.
func NewRunContext(ctx context.Context, log logger.Logger, c *cache.RunCache, integration domain.Snapshot, onboarding bool, publishStream func(context.Context, string, domain.JSONBMap) error) *RunContext {
	return &RunContext{Ctx: ctx, Log: log, Cache: c, Integration: integration, Onboarding: onboarding, publishStream: publishStream}
}

// StreamContext is passed to processStream. Every side effect a stream
// handler may cause flows through one of its methods.
type StreamContext struct {
	Ctx         context.Context
	Log         logger.Logger
	Cache       *cache.RunCache
	Integration domain.Snapshot
	Onboarding  bool
	Stream      StreamRef

	publishStream             func(ctx context.Context, identifier string, data domain.JSONBMap) error
	publishData               func(ctx context.Context, payload domain.JSONBMap) error
	updateIntegrationSettings func(ctx context.Context, partial domain.JSONBMap) error
}

// PublishStream inserts a child stream (parentId = the current stream) and
// enqueues it. Dedupe is by (runId, identifier) among all streams in the run,
// including siblings under other parents.
func (c *StreamContext) PublishStream(identifier string, data domain.JSONBMap) error {
	return c.publishStream(c.Ctx, identifier, data)
}

// PublishData inserts a data row referencing the current stream and enqueues
// it for the data worker.
func (c *StreamContext) PublishData(payload domain.JSONBMap) error {
	return c.publishData(c.Ctx, payload)
}

// UpdateIntegrationSettings merges partial into the integration's settings.
// The merge is shallow at the top level; handlers own whole keys, never
// nested paths within a key.
func (c *StreamContext) UpdateIntegrationSettings(partial domain.JSONBMap) error {
	return c.updateIntegrationSettings(c.Ctx, partial)
}

// AbortWithError terminates only this stream as ERROR.
func (c *StreamContext) AbortWithError(message string, metadata map[string]any) error {
	return &domain.HandlerAbortError{Message: message, Metadata: metadata}
}

// AbortRunWithError terminates the owning run as ERROR; every remaining
// stream under it will short-circuit the next time it is picked up.
func (c *StreamContext) AbortRunWithError(message string, metadata map[string]any) error {
	return &domain.RunAbortError{Message: message, Metadata: metadata}
}

// NewStreamContext builds the handler-facing context for a stream unit.
func NewStreamContext(
	ctx context.Context,
	log logger.Logger,
	c *cache.RunCache,
	integration domain.Snapshot,
	onboarding bool,
	stream StreamRef,
	publishStream func(context.Context, string, domain.JSONBMap) error,
	publishData func(context.Context, domain.JSONBMap) error,
	updateSettings func(context.Context, domain.JSONBMap) error,
) *StreamContext {
	return &StreamContext{
		Ctx: ctx, Log: log, Cache: c, Integration: integration, Onboarding: onboarding, Stream: stream,
		publishStream: publishStream, publishData: publishData, updateIntegrationSettings: updateSettings,
	}
}

// DataContext is passed to processData. It may reach the sink and update
// integration settings, but may not publish further streams or data.
type DataContext struct {
	Ctx         context.Context
	Log         logger.Logger
	Cache       *cache.RunCache
	Integration domain.Snapshot
	Onboarding  bool
	Data        domain.JSONBMap

	updateIntegrationSettings func(ctx context.Context, partial domain.JSONBMap) error
}

// UpdateIntegrationSettings merges partial into the integration's settings.
func (c *DataContext) UpdateIntegrationSettings(partial domain.JSONBMap) error {
	return c.updateIntegrationSettings(c.Ctx, partial)
}

// AbortWithError terminates only this data unit as ERROR.
func (c *DataContext) AbortWithError(message string, metadata map[string]any) error {
	return &domain.HandlerAbortError{Message: message, Metadata: metadata}
}

// AbortRunWithError terminates the owning run as ERROR.
func (c *DataContext) AbortRunWithError(message string, metadata map[string]any) error {
	return &domain.RunAbortError{Message: message, Metadata: metadata}
}

// NewDataContext builds the handler-facing context for a data unit.
func NewDataContext(
	ctx context.Context,
	log logger.Logger,
	c *cache.RunCache,
	integration domain.Snapshot,
	onboarding bool,
	payload domain.JSONBMap,
	updateSettings func(context.Context, domain.JSONBMap) error,
) *DataContext {
	return &DataContext{
		Ctx: ctx, Log: log, Cache: c, Integration: integration, Onboarding: onboarding, Data: payload,
		updateIntegrationSettings: updateSettings,
	}
}
