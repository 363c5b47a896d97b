package domain

import "time"

// StreamType is derived from ParentID's presence: ROOT if nil, CHILD otherwise.
type StreamType string

const (
	StreamTypeRoot  StreamType = "ROOT"
	StreamTypeChild StreamType = "CHILD"
)

// Stream is a unit of pagination or hierarchical traversal under a run.
type Stream struct {
	ID            string
	RunID         string
	ParentID      *string
	TenantID      string
	IntegrationID string
	Identifier    string
	Data          JSONBMap
	State         State
	DelayedUntil  *time.Time
	Retries       int
	Error         ErrorDetail
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Type derives ROOT/CHILD from ParentID's presence.
func (s *Stream) Type() StreamType {
	if s.ParentID == nil {
		return StreamTypeRoot
	}
	return StreamTypeChild
}

// NewRootStream builds a PENDING root stream (ParentID nil) ready to persist.
func NewRootStream(id, runID, tenantID, integrationID, identifier string, data JSONBMap) *Stream {
	return &Stream{
		ID:            id,
		RunID:         runID,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		Identifier:    identifier,
		Data:          data,
		State:         StatePending,
	}
}

// NewChildStream builds a PENDING stream with ParentID set to parentStreamID.
func NewChildStream(id, runID, tenantID, integrationID, identifier string, data JSONBMap, parentStreamID string) *Stream {
	s := NewRootStream(id, runID, tenantID, integrationID, identifier, data)
	s.ParentID = &parentStreamID
	return s
}

// IsDelayExpired reports whether a DELAYED stream is eligible for the
// sweeper to promote back to PENDING.
func (s *Stream) IsDelayExpired(now time.Time) bool {
	return s.State == StateDelayed && s.DelayedUntil != nil && !s.DelayedUntil.After(now)
}

// ExhaustedRetries reports whether one more failure would exceed
// maxStreamRetries, per the spec's `retries > maxStreamRetries` invariant.
func (s *Stream) ExhaustedRetries(maxStreamRetries int) bool {
	return s.Retries+1 > maxStreamRetries
}

// NextBackoff computes the linear backoff delay for the stream's next retry:
// (retries+1) * 15 minutes.
func (s *Stream) NextBackoff() time.Duration {
	return time.Duration(s.Retries+1) * 15 * time.Minute
}
