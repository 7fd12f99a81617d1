package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(NewStore(rdb))
}

func TestRegistry_RegisterApproveHeartbeatLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	w, err := reg.Register(ctx, RegisterRequest{WorkerID: "w1", RegionHint: "eu-west-1", Capabilities: Capabilities{Types: []string{"web"}, MaxConcurrency: 4}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if w.Status != StatusPending {
		t.Fatalf("got status %s, want pending", w.Status)
	}

	w, err = reg.Approve(ctx, "w1", "eu-west-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if w.Status != StatusActive {
		t.Fatalf("got status %s, want active", w.Status)
	}

	w, err = reg.Heartbeat(ctx, "w1", Counters{Completed: 5})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if w.CountersCompleted != 5 {
		t.Fatalf("got completed=%d, want 5", w.CountersCompleted)
	}
}

func TestRegistry_RevokedWorkerCannotReregister(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	if _, err := reg.Register(ctx, RegisterRequest{WorkerID: "w1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Revoke(ctx, "w1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := reg.Register(ctx, RegisterRequest{WorkerID: "w1"}); err == nil {
		t.Fatalf("expected re-registration of revoked worker to fail")
	}
}

func TestRegistry_ReapMarksStaleAndExcludesFromCapacity(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	if _, err := reg.Register(ctx, RegisterRequest{WorkerID: "w1", Capabilities: Capabilities{MaxConcurrency: 10}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	w, err := reg.Approve(ctx, "w1", "eu-west-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Backdate the heartbeat past the staleness threshold.
	w.LastHeartbeatAt = time.Now().UTC().Add(-2 * StaleAfter)
	if err := reg.store.Put(ctx, w); err != nil {
		t.Fatalf("Put: %v", err)
	}

	capacity, err := reg.ActiveCapacity(ctx, "eu-west-1")
	if err != nil {
		t.Fatalf("ActiveCapacity: %v", err)
	}
	if capacity != 0 {
		t.Fatalf("got capacity %d before reap, want 0 (stale worker excluded)", capacity)
	}

	reaped, err := reg.Reap(ctx)
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}

	got, err := reg.store.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusStale {
		t.Fatalf("got status %s, want stale", got.Status)
	}
}

func TestRegistry_ListFiltersByRegionAndStatus(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	if _, err := reg.Register(ctx, RegisterRequest{WorkerID: "w1", RegionHint: "eu-west-1"}); err != nil {
		t.Fatalf("Register w1: %v", err)
	}
	if _, err := reg.Register(ctx, RegisterRequest{WorkerID: "w2", RegionHint: "us-east-1"}); err != nil {
		t.Fatalf("Register w2: %v", err)
	}
	if _, err := reg.Approve(ctx, "w1", "eu-west-1"); err != nil {
		t.Fatalf("Approve w1: %v", err)
	}

	active, err := reg.List(ctx, Filter{Status: StatusActive})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(active) != 1 || active[0].WorkerID != "w1" {
		t.Fatalf("got %+v, want only w1", active)
	}
}
