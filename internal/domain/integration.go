package domain

import "time"

// IntegrationStatus mirrors the external integration lifecycle. The pipeline
// only reads this field to decide whether a run may proceed.
type IntegrationStatus string

const (
	IntegrationStatusActive   IntegrationStatus = "ACTIVE"
	IntegrationStatusInactive IntegrationStatus = "INACTIVE"
)

// Integration is the external configuration entity the pipeline reads and
// partially mutates (Settings only). Its full lifecycle is owned outside
// this module; the pipeline treats it as a read-mostly snapshot plus one
// mutable JSON field.
type Integration struct {
	ID         string
	TenantID   string
	Platform   string
	Identifier string
	Status     IntegrationStatus
	Settings   JSONBMap
	DeletedAt  *time.Time
}

// IsUsable reports whether a run may proceed against this integration: it
// must exist (checked by the repository lookup) and not be soft-deleted.
func (i *Integration) IsUsable() bool {
	return i != nil && i.DeletedAt == nil
}

// Snapshot is the immutable view of an integration exposed to handlers
// through the context contract: id, identifier, platform, status,
// settings as of context construction. Handlers see this instead of the
// mutable Integration so concurrent settings updates from sibling streams
// never appear mid-handler.
type Snapshot struct {
	ID         string
	Identifier string
	Platform   string
	Status     IntegrationStatus
	Settings   JSONBMap
}

// NewSnapshot copies the fields of an Integration into an immutable Snapshot.
func NewSnapshot(i *Integration) Snapshot {
	settings := make(JSONBMap, len(i.Settings))
	for k, v := range i.Settings {
		settings[k] = v
	}
	return Snapshot{
		ID:         i.ID,
		Identifier: i.Identifier,
		Platform:   i.Platform,
		Status:     i.Status,
		Settings:   settings,
	}
}
