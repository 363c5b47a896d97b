package domain_test

import (
	"testing"
	"time"

	"github.com/commstream/integration-pipeline/internal/domain"
)

func TestStream_Type(t *testing.T) {
	t.Parallel()

	root := domain.NewRootStream("s1", "r1", "t1", "i1", "root-a", nil)
	if root.Type() != domain.StreamTypeRoot {
		t.Errorf("expected ROOT, got %s", root.Type())
	}

	child := domain.NewChildStream("s2", "r1", "t1", "i1", "child-a", nil, "s1")
	if child.Type() != domain.StreamTypeChild {
		t.Errorf("expected CHILD, got %s", child.Type())
	}
	if *child.ParentID != "s1" {
		t.Errorf("expected parent id s1, got %s", *child.ParentID)
	}
}

func TestStream_ExhaustedRetries(t *testing.T) {
	t.Parallel()

	s := &domain.Stream{Retries: 2}
	if s.ExhaustedRetries(2) != true {
		t.Error("retries=2, max=2: next failure (3) exceeds max, expected exhausted")
	}

	s = &domain.Stream{Retries: 1}
	if s.ExhaustedRetries(2) != false {
		t.Error("retries=1, max=2: next failure (2) does not exceed max, expected not exhausted")
	}
}

func TestStream_NextBackoff(t *testing.T) {
	t.Parallel()

	s := &domain.Stream{Retries: 0}
	if got := s.NextBackoff(); got != 15*time.Minute {
		t.Errorf("expected 15m backoff at retries=0, got %v", got)
	}

	s = &domain.Stream{Retries: 2}
	if got := s.NextBackoff(); got != 45*time.Minute {
		t.Errorf("expected 45m backoff at retries=2, got %v", got)
	}
}

func TestStream_IsDelayExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	s := &domain.Stream{State: domain.StateDelayed, DelayedUntil: &past}
	if !s.IsDelayExpired(now) {
		t.Error("expected delay to be expired")
	}

	s = &domain.Stream{State: domain.StateDelayed, DelayedUntil: &future}
	if s.IsDelayExpired(now) {
		t.Error("expected delay to still be active")
	}

	s = &domain.Stream{State: domain.StatePending, DelayedUntil: &past}
	if s.IsDelayExpired(now) {
		t.Error("non-delayed stream should never be considered delay-expired")
	}
}
