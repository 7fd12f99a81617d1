package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// dedupWindow guards against a (serviceId, region, windowStart) triple
// being emitted twice (§4.5 point 4), shared via Redis rather than kept
// only in process memory so a leader flap mid-window doesn't double-emit.
type dedupWindow struct {
	rdb *redis.Client
}

func newDedupWindow(rdb *redis.Client) *dedupWindow {
	return &dedupWindow{rdb: rdb}
}

// windowStart buckets now into the current interval window.
func windowStart(now, intervalMs int64) int64 {
	return (now / intervalMs) * intervalMs
}

// claim reports whether this is the first claim of the window; ttl should
// comfortably outlive the window itself so a late retry doesn't reclaim it.
func (d *dedupWindow) claim(ctx context.Context, serviceID uuid.UUID, region string, ws int64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("scheduler:dedup:%s:%s:%d", serviceID, region, ws)
	ok, err := d.rdb.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming dedup window: %w", err)
	}
	return ok, nil
}
