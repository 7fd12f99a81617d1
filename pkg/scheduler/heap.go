package scheduler

import (
	"container/heap"

	"github.com/google/uuid"
)

// Entry is the scheduler's in-memory cursor for one Service (§3 ScheduleEntry).
type Entry struct {
	ServiceID  uuid.UUID
	NextDueAt  int64 // epoch ms
	IntervalMs int64
	Regions    []string
	Revision   int64

	index int // heap.Interface bookkeeping
}

// entryHeap is a min-heap ordered by NextDueAt.
type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].NextDueAt < h[j].NextDueAt }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Schedule wraps entryHeap with lookup by ServiceID so change-feed updates
// and deletes can find an entry without a linear scan.
type Schedule struct {
	h     entryHeap
	byID  map[uuid.UUID]*Entry
}

func NewSchedule() *Schedule {
	return &Schedule{byID: make(map[uuid.UUID]*Entry)}
}

func (s *Schedule) Len() int { return s.h.Len() }

// Upsert adds a new entry, due at now, or, if one already exists for the
// service, updates its interval/regions/revision in place. NextDueAt and
// the queue position are kept unless the interval changed, in which case
// NextDueAt becomes now+interval (a running service shouldn't reset its
// cadence just because its webhook list changed).
func (s *Schedule) Upsert(serviceID uuid.UUID, intervalMs int64, regions []string, revision int64, now int64) {
	if e, ok := s.byID[serviceID]; ok {
		if e.Revision == revision {
			return
		}
		if e.IntervalMs != intervalMs {
			e.NextDueAt = now + intervalMs
			heap.Fix(&s.h, e.index)
		}
		e.IntervalMs = intervalMs
		e.Regions = regions
		e.Revision = revision
		return
	}

	e := &Entry{ServiceID: serviceID, NextDueAt: now, IntervalMs: intervalMs, Regions: regions, Revision: revision}
	heap.Push(&s.h, e)
	s.byID[serviceID] = e
}

// Remove drops a service's entry (deletion/deactivation).
func (s *Schedule) Remove(serviceID uuid.UUID) {
	e, ok := s.byID[serviceID]
	if !ok {
		return
	}
	heap.Remove(&s.h, e.index)
	delete(s.byID, serviceID)
}

// PopDue removes and returns every entry with NextDueAt <= now.
func (s *Schedule) PopDue(now int64) []*Entry {
	var due []*Entry
	for s.h.Len() > 0 && s.h[0].NextDueAt <= now {
		e := heap.Pop(&s.h).(*Entry)
		delete(s.byID, e.ServiceID)
		due = append(due, e)
	}
	return due
}

// Reinsert pushes an entry back onto the heap at its (already mutated)
// NextDueAt, typically after publishing its commands for this tick.
func (s *Schedule) Reinsert(e *Entry) {
	heap.Push(&s.h, e)
	s.byID[e.ServiceID] = e
}
