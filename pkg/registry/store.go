package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no worker exists with the given id.
var ErrNotFound = errors.New("registry: worker not found")

const indexKey = "worker:index"

// Store persists Worker rows at `worker:{workerId}` (§6), with a companion
// set for listing and a separate `worker:heartbeat:{workerId}` liveness key
// (TTL 90s) that expires independently of the worker record itself.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func key(workerID string) string          { return "worker:" + workerID }
func heartbeatKey(workerID string) string { return "worker:heartbeat:" + workerID }

func (s *Store) Get(ctx context.Context, workerID string) (Worker, error) {
	raw, err := s.rdb.Get(ctx, key(workerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Worker{}, ErrNotFound
	}
	if err != nil {
		return Worker{}, fmt.Errorf("getting worker %s: %w", workerID, err)
	}
	var w Worker
	if err := json.Unmarshal(raw, &w); err != nil {
		return Worker{}, fmt.Errorf("decoding worker %s: %w", workerID, err)
	}
	return w, nil
}

func (s *Store) Put(ctx context.Context, w Worker) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encoding worker %s: %w", w.WorkerID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key(w.WorkerID), raw, 0)
	pipe.SAdd(ctx, indexKey, w.WorkerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing worker %s: %w", w.WorkerID, err)
	}
	return nil
}

// TouchHeartbeat refreshes the liveness key independent of the worker
// record's own LastHeartbeatAt field, so a reaping sweep can distinguish
// "no heartbeat key" from "worker record never loaded" at the storage layer.
func (s *Store) TouchHeartbeat(ctx context.Context, workerID string, at time.Time) error {
	if err := s.rdb.Set(ctx, heartbeatKey(workerID), at.UTC().Format(time.RFC3339), StaleAfter).Err(); err != nil {
		return fmt.Errorf("touching heartbeat for %s: %w", workerID, err)
	}
	return nil
}

// List returns every known worker. Filtering is done in-memory by the
// caller (pkg/registry.Registry.List) since the fleet size this core
// targets (single-digit thousands of workers) doesn't warrant secondary
// Redis indexes per filter dimension.
func (s *Store) List(ctx context.Context) ([]Worker, error) {
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing worker ids: %w", err)
	}
	out := make([]Worker, 0, len(ids))
	for _, id := range ids {
		w, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
