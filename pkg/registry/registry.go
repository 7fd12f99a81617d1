package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/guardantio/guardant/internal/telemetry"
)

// Registry is the single-writer business logic over Store, implementing
// the register/approve/revoke/drain/heartbeat/list surface (§4.8).
type Registry struct {
	store *Store
}

func New(store *Store) *Registry {
	return &Registry{store: store}
}

// RegisterRequest is the payload a worker submits to bootstrap itself.
type RegisterRequest struct {
	WorkerID     string
	OwnerEmail   string
	RegionHint   string
	Capabilities Capabilities
	Version      string
}

// Register creates (or re-submits) a worker as pending, unless it was
// previously revoked, in which case it is rejected until an operator
// clears the revocation (§4.8 invariant).
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (Worker, error) {
	existing, err := r.store.Get(ctx, req.WorkerID)
	if err == nil {
		switch existing.Status {
		case StatusRevoked:
			return Worker{}, fmt.Errorf("worker %s is revoked and cannot re-register", req.WorkerID)
		case StatusApproved, StatusActive:
			// Idempotent re-registration: a worker that restarts shouldn't
			// be reset to pending and have to wait for re-approval.
			return existing, nil
		}
	}

	w := Worker{
		WorkerID:     req.WorkerID,
		RegionID:     req.RegionHint,
		Capabilities: req.Capabilities,
		Version:      req.Version,
		Status:       StatusPending,
		OwnerEmail:   req.OwnerEmail,
		RegisteredAt: time.Now().UTC(),
	}
	if err := r.store.Put(ctx, w); err != nil {
		return Worker{}, err
	}
	return w, nil
}

// Approve transitions a pending worker to active in the given region,
// issuing it a fresh broker ACL identity (§4.2 step d, §4.8).
func (r *Registry) Approve(ctx context.Context, workerID, region string) (Worker, error) {
	w, err := r.store.Get(ctx, workerID)
	if err != nil {
		return Worker{}, err
	}
	w.Status = StatusActive
	w.RegionID = region
	w.LastHeartbeatAt = time.Now().UTC()
	creds, err := newBrokerCredentials(workerID)
	if err != nil {
		return Worker{}, fmt.Errorf("issuing broker credentials for %s: %w", workerID, err)
	}
	w.BrokerCredentials = creds
	if err := r.store.Put(ctx, w); err != nil {
		return Worker{}, err
	}
	return w, nil
}

// newBrokerCredentials generates a fresh per-worker Redis ACL identity: a
// stable username derived from workerId and a random password, so
// re-approval after a revoke-and-clear always rotates the password rather
// than reusing a leaked one.
func newBrokerCredentials(workerID string) (BrokerCredentials, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return BrokerCredentials{}, err
	}
	return BrokerCredentials{
		Username: "worker:" + workerID,
		Password: hex.EncodeToString(buf),
	}, nil
}

// Revoke permanently excludes a worker; it may not re-register without an
// operator clearing the revocation out of band. Its broker credentials are
// cleared immediately rather than left valid until some external ACL
// cleanup runs.
func (r *Registry) Revoke(ctx context.Context, workerID string) (Worker, error) {
	w, err := r.store.Get(ctx, workerID)
	if err != nil {
		return Worker{}, err
	}
	w.Status = StatusRevoked
	w.BrokerCredentials = BrokerCredentials{}
	if err := r.store.Put(ctx, w); err != nil {
		return Worker{}, err
	}
	return w, nil
}

// Drain marks a worker as winding down: it keeps finishing in-flight
// commands but is excluded from new schedule assignment.
func (r *Registry) Drain(ctx context.Context, workerID string) (Worker, error) {
	w, err := r.store.Get(ctx, workerID)
	if err != nil {
		return Worker{}, err
	}
	w.Status = StatusDraining
	if err := r.store.Put(ctx, w); err != nil {
		return Worker{}, err
	}
	return w, nil
}

// Counters carries the incremental completed/failed counts a worker
// reports with each heartbeat.
type Counters struct {
	Completed int64
	Failed    int64
}

// Heartbeat refreshes liveness and counters; a previously stale worker
// transitions back to active (§4.8).
func (r *Registry) Heartbeat(ctx context.Context, workerID string, counters Counters) (Worker, error) {
	w, err := r.store.Get(ctx, workerID)
	if err != nil {
		return Worker{}, err
	}
	now := time.Now().UTC()
	if w.Status == StatusStale {
		w.Status = StatusActive
	}
	w.LastHeartbeatAt = now
	w.CountersCompleted += counters.Completed
	w.CountersFailed += counters.Failed

	if err := r.store.Put(ctx, w); err != nil {
		return Worker{}, err
	}
	if err := r.store.TouchHeartbeat(ctx, workerID, now); err != nil {
		return Worker{}, err
	}
	return w, nil
}

// Filter narrows List results; a zero-value field is not filtered on.
type Filter struct {
	Region     string
	Status     Status
	Capability string
}

// List returns the fleet view, optionally filtered (§4.8, §5 supplemental
// fleet-observability feature).
func (r *Registry) List(ctx context.Context, f Filter) ([]Worker, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Worker, 0, len(all))
	for _, w := range all {
		if f.Region != "" && w.RegionID != f.Region {
			continue
		}
		if f.Status != "" && w.Status != f.Status {
			continue
		}
		if f.Capability != "" && !hasCapability(w.Capabilities, f.Capability) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func hasCapability(c Capabilities, typ string) bool {
	for _, t := range c.Types {
		if t == typ {
			return true
		}
	}
	return false
}

// ActiveCapacity sums maxConcurrency across active, non-stale workers in a
// region — what the Scheduler's backpressure math uses as region.capacity.
func (r *Registry) ActiveCapacity(ctx context.Context, region string) (int, error) {
	workers, err := r.List(ctx, Filter{Region: region, Status: StatusActive})
	if err != nil {
		return 0, err
	}
	total := 0
	now := time.Now().UTC()
	for _, w := range workers {
		if w.IsStale(now) {
			continue
		}
		total += w.Capabilities.MaxConcurrency
	}
	return total, nil
}

// Reap marks every active worker whose heartbeat has aged out past
// StaleAfter as stale, excluding it from capacity math until it
// heartbeats again (§4.8, §5 dead-worker reaping).
func (r *Registry) Reap(ctx context.Context) (int, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	reaped := 0
	counts := map[Status]int{}
	for _, w := range all {
		if w.IsStale(now) {
			w.Status = StatusStale
			if err := r.store.Put(ctx, w); err != nil {
				return reaped, err
			}
			reaped++
		}
		counts[w.Status]++
	}
	for _, status := range []Status{StatusPending, StatusApproved, StatusActive, StatusDraining, StatusRevoked, StatusStale} {
		telemetry.WorkersByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	return reaped, nil
}
