package incident

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestCacheStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	cache := NewCacheStore(rdb)

	nestID, serviceID := uuid.New(), uuid.New()
	_, ok, err := cache.Get(ctx, nestID, serviceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected no cached incident yet")
	}

	in := Incident{IncidentID: uuid.New(), NestID: nestID, ServiceID: serviceID, Reason: "timeout", AffectedChecks: 2}
	if err := cache.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := cache.Get(ctx, nestID, serviceID)
	if err != nil || !ok {
		t.Fatalf("Get after Put: ok=%v err=%v", ok, err)
	}
	if got.IncidentID != in.IncidentID || got.AffectedChecks != 2 {
		t.Fatalf("got %+v, want %+v", got, in)
	}

	if err := cache.Delete(ctx, nestID, serviceID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, nestID, serviceID); ok {
		t.Fatalf("expected incident gone after Delete")
	}
}

func TestSuspectTracker_IncrementAndClear(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	tracker := newSuspectTracker(rdb)
	serviceID := uuid.New()

	for want := 1; want <= 3; want++ {
		got, err := tracker.IncrementDown(ctx, serviceID)
		if err != nil {
			t.Fatalf("IncrementDown: %v", err)
		}
		if got != want {
			t.Fatalf("streak = %d, want %d", got, want)
		}
	}

	if err := tracker.Clear(ctx, serviceID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err := tracker.IncrementDown(ctx, serviceID)
	if err != nil {
		t.Fatalf("IncrementDown after Clear: %v", err)
	}
	if got != 1 {
		t.Fatalf("streak after Clear = %d, want 1", got)
	}
}
