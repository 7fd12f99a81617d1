package scheduler

import (
	"testing"

	"github.com/google/uuid"
)

func TestSchedule_PopDueInOrder(t *testing.T) {
	s := NewSchedule()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	s.Upsert(a, 1000, []string{"eu"}, 1, 0)
	s.Upsert(b, 1000, []string{"eu"}, 1, -500) // already due
	s.Upsert(c, 1000, []string{"eu"}, 1, 2000)

	due := s.PopDue(0)
	if len(due) != 2 {
		t.Fatalf("got %d due entries, want 2", len(due))
	}
	if due[0].ServiceID != b {
		t.Fatalf("expected b (more overdue) first, got %s", due[0].ServiceID)
	}

	if s.Len() != 1 {
		t.Fatalf("remaining heap len = %d, want 1", s.Len())
	}
}

func TestSchedule_UpsertPreservesPositionOnNonIntervalChange(t *testing.T) {
	s := NewSchedule()
	id := uuid.New()
	s.Upsert(id, 1000, []string{"eu"}, 1, 0)

	due := s.PopDue(0)
	if len(due) != 1 {
		t.Fatalf("expected 1 due entry")
	}
	e := due[0]
	e.NextDueAt = 5000
	s.Reinsert(e)

	// Same revision is a no-op.
	s.Upsert(id, 1000, []string{"eu"}, 1, 100)
	if s.byID[id].NextDueAt != 5000 {
		t.Fatalf("NextDueAt changed on no-op upsert: %d", s.byID[id].NextDueAt)
	}

	// Interval change resets NextDueAt relative to now.
	s.Upsert(id, 2000, []string{"eu", "us"}, 2, 100)
	if s.byID[id].NextDueAt != 2100 {
		t.Fatalf("NextDueAt = %d, want 2100 after interval change", s.byID[id].NextDueAt)
	}
	if len(s.byID[id].Regions) != 2 {
		t.Fatalf("regions not updated")
	}
}

func TestSchedule_Remove(t *testing.T) {
	s := NewSchedule()
	id := uuid.New()
	s.Upsert(id, 1000, []string{"eu"}, 1, 0)
	s.Remove(id)
	if s.Len() != 0 {
		t.Fatalf("Len = %d after Remove, want 0", s.Len())
	}
	due := s.PopDue(100000)
	if len(due) != 0 {
		t.Fatalf("removed entry still fired")
	}
}
