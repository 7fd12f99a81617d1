package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaderKey = "scheduler:leader"

// Lease implements the scheduler:leader TTL lease (§4.5): at most one
// holder at a time, acquired with a set-if-absent and kept alive by
// periodic renewal. Losing the lease must stop command emission within
// one tick, so callers check Held() on every tick rather than trusting a
// background renewal result blindly.
type Lease struct {
	rdb      *redis.Client
	holderID string
	ttl      time.Duration

	held bool
}

func NewLease(rdb *redis.Client, holderID string, ttl time.Duration) *Lease {
	return &Lease{rdb: rdb, holderID: holderID, ttl: ttl}
}

// TryAcquire attempts to become leader, succeeding immediately if no lease
// is held or the existing lease is held by this same instance (renewal).
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, leaderKey, l.holderID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring leader lease: %w", err)
	}
	if ok {
		l.held = true
		return true, nil
	}

	// Not newly acquired: renew only if we already hold it.
	current, err := l.rdb.Get(ctx, leaderKey).Result()
	if err == redis.Nil {
		l.held = false
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking leader lease: %w", err)
	}
	if current != l.holderID {
		l.held = false
		return false, nil
	}

	if err := l.rdb.Expire(ctx, leaderKey, l.ttl).Err(); err != nil {
		return false, fmt.Errorf("renewing leader lease: %w", err)
	}
	l.held = true
	return true, nil
}

// Held reports the last known acquisition/renewal outcome without a round
// trip to Redis.
func (l *Lease) Held() bool { return l.held }

// Release gives up the lease early (graceful shutdown) so a passive
// instance doesn't have to wait out the full TTL.
func (l *Lease) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	if err := script.Run(ctx, l.rdb, []string{leaderKey}, l.holderID).Err(); err != nil {
		return fmt.Errorf("releasing leader lease: %w", err)
	}
	l.held = false
	return nil
}
