package domain

import "time"

// Run is one execution of an integration for a tenant.
type Run struct {
	ID            string
	TenantID      string
	IntegrationID string
	Onboarding    bool
	State         State
	DelayedUntil  *time.Time
	Error         ErrorDetail
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRun builds a PENDING run ready to be persisted.
func NewRun(id, tenantID, integrationID string, onboarding bool) *Run {
	return &Run{
		ID:            id,
		TenantID:      tenantID,
		IntegrationID: integrationID,
		Onboarding:    onboarding,
		State:         StatePending,
	}
}

// IsDelayExpired reports whether a DELAYED run is eligible for the sweeper
// to promote back to PENDING.
func (r *Run) IsDelayExpired(now time.Time) bool {
	return r.State == StateDelayed && r.DelayedUntil != nil && !r.DelayedUntil.After(now)
}
