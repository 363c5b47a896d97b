package sink

import (
	"context"
	"sync"
)

// Fake is an in-memory Sink for tests. It records calls rather than
// deduplicating, so tests can assert on delivery counts directly.
type Fake struct {
	mu         sync.Mutex
	Activities []FakeActivity
	Members    []FakeMember
}

// FakeActivity records one UpsertActivity call.
type FakeActivity struct {
	SourceID string
	TenantID string
	Payload  map[string]any
}

// FakeMember records one UpsertMember call.
type FakeMember struct {
	Identities []MemberIdentity
	TenantID   string
	Payload    map[string]any
}

// NewFake builds an empty Fake sink.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) UpsertActivity(_ context.Context, sourceID, tenantID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Activities = append(f.Activities, FakeActivity{SourceID: sourceID, TenantID: tenantID, Payload: payload})
	return nil
}

func (f *Fake) UpsertMember(_ context.Context, identities []MemberIdentity, tenantID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members = append(f.Members, FakeMember{Identities: identities, TenantID: tenantID, Payload: payload})
	return nil
}
