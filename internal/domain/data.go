package domain

import "time"

// Data is a produced record awaiting normalization into the sink.
type Data struct {
	ID        string
	StreamID  string
	RunID     string
	TenantID  string
	Data      JSONBMap
	State     State
	Retries   int
	Error     ErrorDetail
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewData builds a PENDING data row ready to persist.
func NewData(id, streamID, runID, tenantID string, payload JSONBMap) *Data {
	return &Data{
		ID:       id,
		StreamID: streamID,
		RunID:    runID,
		TenantID: tenantID,
		Data:     payload,
		State:    StatePending,
	}
}

// ExhaustedRetries reports whether one more failure would exceed
// maxDataRetries. The spec reuses the stream retry policy as the default.
func (d *Data) ExhaustedRetries(maxDataRetries int) bool {
	return d.Retries+1 > maxDataRetries
}
