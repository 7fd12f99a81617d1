package scheduler

import (
	"context"
	"testing"
	"time"

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

func TestLease_ExclusiveAcquisition(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)

	a := NewLease(rdb, "instance-a", 15*time.Second)
	bLease := NewLease(rdb, "instance-b", 15*time.Second)

	held, err := a.TryAcquire(ctx)
	if err != nil || !held {
		t.Fatalf("a.TryAcquire: held=%v err=%v", held, err)
	}

	held, err = bLease.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("b.TryAcquire: %v", err)
	}
	if held {
		t.Fatalf("b acquired lease while a holds it")
	}

	// a renews successfully.
	held, err = a.TryAcquire(ctx)
	if err != nil || !held {
		t.Fatalf("a renewal: held=%v err=%v", held, err)
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}

	held, err = bLease.TryAcquire(ctx)
	if err != nil || !held {
		t.Fatalf("b.TryAcquire after release: held=%v err=%v", held, err)
	}
}

func TestDedupWindow_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	d := newDedupWindow(rdb)

	id := uuid.New()
	ws := windowStart(10_000, 1_000)

	first, err := d.claim(ctx, id, "eu-west-1", ws, time.Minute)
	if err != nil || !first {
		t.Fatalf("first claim: ok=%v err=%v", first, err)
	}

	second, err := d.claim(ctx, id, "eu-west-1", ws, time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second {
		t.Fatalf("second claim of same window succeeded, want false")
	}

	other, err := d.claim(ctx, id, "us-east-1", ws, time.Minute)
	if err != nil || !other {
		t.Fatalf("claim for a different region should succeed: ok=%v err=%v", other, err)
	}
}
