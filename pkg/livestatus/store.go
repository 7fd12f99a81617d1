package livestatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when no LiveStatus is stored (or it expired).
var ErrNotFound = errors.New("livestatus: not found")

// Store persists LiveStatus under the `status:{nestId}:{serviceId}` key
// with a 300s TTL (§6), rebuilt on arrival of every new result. The
// Ingestor is the sole writer.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func key(nestID, serviceID uuid.UUID) string {
	return fmt.Sprintf("status:%s:%s", nestID, serviceID)
}

// Get returns the current LiveStatus, or ErrNotFound if absent/expired.
func (s *Store) Get(ctx context.Context, nestID, serviceID uuid.UUID) (LiveStatus, error) {
	raw, err := s.rdb.Get(ctx, key(nestID, serviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return LiveStatus{}, ErrNotFound
	}
	if err != nil {
		return LiveStatus{}, fmt.Errorf("getting livestatus: %w", err)
	}

	var ls LiveStatus
	if err := json.Unmarshal(raw, &ls); err != nil {
		return LiveStatus{}, fmt.Errorf("decoding livestatus: %w", err)
	}
	return ls, nil
}

// Put stores a LiveStatus with the standard TTL, resetting it on every write.
func (s *Store) Put(ctx context.Context, ls LiveStatus) error {
	raw, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("encoding livestatus: %w", err)
	}
	if err := s.rdb.Set(ctx, key(ls.NestID, ls.ServiceID), raw, TTL).Err(); err != nil {
		return fmt.Errorf("putting livestatus: %w", err)
	}
	return nil
}
