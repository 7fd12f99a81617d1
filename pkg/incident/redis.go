package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CacheStore mirrors the current open incident, if any, at
// `incident:{nestId}:{serviceId}` (§6) for fast reads off the hot path,
// separate from the Postgres Store that is the source of truth.
type CacheStore struct {
	rdb *redis.Client
}

func NewCacheStore(rdb *redis.Client) *CacheStore {
	return &CacheStore{rdb: rdb}
}

func cacheKey(nestID, serviceID uuid.UUID) string {
	return fmt.Sprintf("incident:%s:%s", nestID, serviceID)
}

func (c *CacheStore) Put(ctx context.Context, i Incident) error {
	raw, err := json.Marshal(i)
	if err != nil {
		return fmt.Errorf("encoding incident: %w", err)
	}
	// No TTL: an open incident lives until explicitly resolved and deleted.
	if err := c.rdb.Set(ctx, cacheKey(i.NestID, i.ServiceID), raw, 0).Err(); err != nil {
		return fmt.Errorf("caching incident: %w", err)
	}
	return nil
}

func (c *CacheStore) Delete(ctx context.Context, nestID, serviceID uuid.UUID) error {
	if err := c.rdb.Del(ctx, cacheKey(nestID, serviceID)).Err(); err != nil {
		return fmt.Errorf("evicting cached incident: %w", err)
	}
	return nil
}

func (c *CacheStore) Get(ctx context.Context, nestID, serviceID uuid.UUID) (Incident, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(nestID, serviceID)).Bytes()
	if err == redis.Nil {
		return Incident{}, false, nil
	}
	if err != nil {
		return Incident{}, false, fmt.Errorf("getting cached incident: %w", err)
	}
	var i Incident
	if err := json.Unmarshal(raw, &i); err != nil {
		return Incident{}, false, fmt.Errorf("decoding cached incident: %w", err)
	}
	return i, true, nil
}

// suspectTracker counts consecutive down observations for a service that
// has not yet escalated to an open Incident. It expires quickly: a gap in
// observations longer than the window means the streak is stale and should
// not silently resume.
type suspectTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

func newSuspectTracker(rdb *redis.Client) *suspectTracker {
	return &suspectTracker{rdb: rdb, ttl: 15 * time.Minute}
}

func suspectKey(serviceID uuid.UUID) string {
	return fmt.Sprintf("incident:suspect:%s", serviceID)
}

func (t *suspectTracker) IncrementDown(ctx context.Context, serviceID uuid.UUID) (int, error) {
	key := suspectKey(serviceID)
	count, err := t.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing suspect streak: %w", err)
	}
	t.rdb.Expire(ctx, key, t.ttl)
	return int(count), nil
}

func (t *suspectTracker) Clear(ctx context.Context, serviceID uuid.UUID) error {
	if err := t.rdb.Del(ctx, suspectKey(serviceID)).Err(); err != nil {
		return fmt.Errorf("clearing suspect streak: %w", err)
	}
	return nil
}
