// Package broker implements the at-least-once transport between the
// Scheduler, Worker Nodes, the Result Ingestor, and the Notification
// Dispatcher (§4.4) on top of Redis Streams consumer groups. Every stream
// is durable and replayable: a crashed consumer's pending entries are
// reclaimed by any other consumer in its group rather than lost.
package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// MaxDeliveries bounds how many times a message may be claimed before it is
// moved to its stream's dead-letter counterpart instead of retried again.
const MaxDeliveries = 5

// Broker publishes and consumes messages over Redis Streams.
type Broker struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Publish appends a message to a stream, returning its stream-assigned ID.
func (b *Broker) Publish(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publishing to %s: %w", stream, err)
	}
	return id, nil
}

// StreamLen returns the current number of entries on a stream, used by the
// Scheduler to detect backpressure (§4.5).
func (b *Broker) StreamLen(ctx context.Context, stream string) (int64, error) {
	n, err := b.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring length of %s: %w", stream, err)
	}
	return n, nil
}

// EnsureGroup creates stream and consumer group idempotently ($ = only new
// entries for a brand-new group; a pre-existing group is left untouched).
func (b *Broker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("ensuring group %s on %s: %w", group, stream, err)
	}
	return nil
}
