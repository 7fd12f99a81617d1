package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/guardantio/guardant/pkg/probe"
)

// Defaults for the down/up streak thresholds (§4.6). A Service may override
// these; zero values in Thresholds fall back to the defaults below.
const (
	DefaultDownThreshold = 2 // k: consecutive downs to escalate SUSPECTED -> OPEN
	DefaultUpThreshold   = 2 // r: consecutive ups to escalate OPEN -> RESOLVED
)

// Thresholds configures the streak lengths for one service's state machine.
type Thresholds struct {
	Down int
	Up   int
}

func (t Thresholds) orDefaults() Thresholds {
	if t.Down <= 0 {
		t.Down = DefaultDownThreshold
	}
	if t.Up <= 0 {
		t.Up = DefaultUpThreshold
	}
	return t
}

// Transition describes what happened to the incident state as a result of
// one aggregatedStatus observation.
type Transition struct {
	Opened   *Incident
	Resolved *Incident
}

// Machine drives the all-up -> SUSPECTED -> OPEN -> RESOLVED state machine.
// Suspected streaks (not yet persisted as an Incident) live in Redis;
// OPEN incidents live in Postgres via Store, the source of truth mirrored
// to Redis for fast reads by CacheStore.
type Machine struct {
	store   *Store
	cache   *CacheStore
	suspect *suspectTracker
}

func NewMachine(store *Store, cache *CacheStore, rdb *redis.Client) *Machine {
	return &Machine{store: store, cache: cache, suspect: newSuspectTracker(rdb)}
}

// Advance folds one aggregatedStatus observation into the state machine for
// a service, returning any Opened/Resolved transition that resulted.
// A probe.StatusDegraded observation is a no-op: it neither advances nor
// resets either streak, since §3's truth table reserves degraded for
// display only and never by itself implies a region is down.
func (m *Machine) Advance(ctx context.Context, nestID, serviceID uuid.UUID, status probe.Status, reason string, th Thresholds, now time.Time) (Transition, error) {
	th = th.orDefaults()

	switch status {
	case probe.StatusDown:
		return m.observeDown(ctx, nestID, serviceID, reason, th, now)
	case probe.StatusUp:
		return m.observeUp(ctx, nestID, serviceID, th, now)
	default:
		return Transition{}, nil
	}
}

func (m *Machine) observeDown(ctx context.Context, nestID, serviceID uuid.UUID, reason string, th Thresholds, now time.Time) (Transition, error) {
	open, err := m.store.GetOpen(ctx, serviceID)
	switch {
	case err == nil:
		// Already OPEN: bump affectedChecks, reset the recovery streak.
		if err := m.store.RecordDown(ctx, open.IncidentID, now); err != nil {
			return Transition{}, err
		}
		open.AffectedChecks++
		open.LastSeenAt = now
		if err := m.cache.Put(ctx, open); err != nil {
			return Transition{}, err
		}
		return Transition{}, nil

	case err == ErrNotFound:
		count, err := m.suspect.IncrementDown(ctx, serviceID)
		if err != nil {
			return Transition{}, err
		}
		if count < th.Down {
			return Transition{}, nil
		}

		// Reason is the errorClass of the result that crossed the down
		// threshold, not a tally of the most common errorClass across the
		// whole affectedChecks streak: the streak's earlier results aren't
		// retained anywhere to tally against, and the triggering class is
		// what an on-call engineer needs first anyway.
		incident := Incident{
			IncidentID:     uuid.New(),
			ServiceID:      serviceID,
			NestID:         nestID,
			OpenedAt:       now,
			Reason:         reason,
			AffectedChecks: count,
			LastSeenAt:     now,
		}
		created, err := m.store.Create(ctx, incident)
		if err != nil {
			return Transition{}, err
		}
		if err := m.suspect.Clear(ctx, serviceID); err != nil {
			return Transition{}, err
		}
		if err := m.cache.Put(ctx, created); err != nil {
			return Transition{}, err
		}
		return Transition{Opened: &created}, nil

	default:
		return Transition{}, fmt.Errorf("observing down: %w", err)
	}
}

func (m *Machine) observeUp(ctx context.Context, nestID, serviceID uuid.UUID, th Thresholds, now time.Time) (Transition, error) {
	open, err := m.store.GetOpen(ctx, serviceID)
	switch {
	case err == ErrNotFound:
		// Not yet escalated past SUSPECTED: a single up clears the down streak.
		if err := m.suspect.Clear(ctx, serviceID); err != nil {
			return Transition{}, err
		}
		return Transition{}, nil

	case err == nil:
		count, err := m.store.RecordUp(ctx, open.IncidentID)
		if err != nil {
			return Transition{}, err
		}
		if count < th.Up {
			return Transition{}, nil
		}
		if err := m.store.Close(ctx, open.IncidentID, now); err != nil {
			return Transition{}, err
		}
		open.ClosedAt = &now
		if err := m.cache.Delete(ctx, nestID, serviceID); err != nil {
			return Transition{}, err
		}
		return Transition{Resolved: &open}, nil

	default:
		return Transition{}, fmt.Errorf("observing up: %w", err)
	}
}
