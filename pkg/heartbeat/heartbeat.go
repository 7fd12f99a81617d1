// Package heartbeat stores the last-seen timestamp for external services
// monitored by a `heartbeat` probe: rather than GuardAnt reaching out, the
// monitored process pings in and the Probe Engine pulls the timestamp back
// out (§4.1, §9 open question resolved in favor of pull semantics).
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func key(heartbeatID string) string { return "heartbeat:custom:" + heartbeatID }

// Store records and resolves custom heartbeat pings. It implements
// probe.HeartbeatLookup.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Record marks heartbeatID as seen at now. Callers outside this core (the
// monitored process itself) are expected to call the admin-API endpoint
// that wraps this, per §1's scoping of push ingress to the admin API.
func (s *Store) Record(ctx context.Context, heartbeatID string, now time.Time) error {
	if err := s.rdb.Set(ctx, key(heartbeatID), now.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("recording heartbeat %s: %w", heartbeatID, err)
	}
	return nil
}

// LastHeartbeat returns the last recorded ping for heartbeatID, satisfying
// probe.HeartbeatLookup.
func (s *Store) LastHeartbeat(ctx context.Context, heartbeatID string) (time.Time, bool, error) {
	raw, err := s.rdb.Get(ctx, key(heartbeatID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("getting heartbeat %s: %w", heartbeatID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing heartbeat %s: %w", heartbeatID, err)
	}
	return t, true, nil
}
