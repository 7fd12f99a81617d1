package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one delivered stream entry, ready to be acknowledged once
// processed.
type Message struct {
	ID     string
	Stream string
	Fields map[string]any
}

// Consumer reads from one stream as a named member of a consumer group,
// acknowledging successfully processed entries and reclaiming ones
// abandoned by a crashed sibling.
type Consumer struct {
	b        *Broker
	stream   string
	group    string
	name     string
}

// NewConsumer returns a Consumer. Call EnsureGroup on the Broker first.
func NewConsumer(b *Broker, stream, group, consumerName string) *Consumer {
	return &Consumer{b: b, stream: stream, group: group, name: consumerName}
}

// Read blocks up to block for up to count new entries addressed to this
// consumer. A zero result with a nil error means the block elapsed with
// nothing delivered.
func (c *Consumer) Read(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	res, err := c.b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", c.stream, c.group, err)
	}

	var out []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			out = append(out, Message{ID: entry.ID, Stream: c.stream, Fields: entry.Values})
		}
	}
	return out, nil
}

// Ack acknowledges entries as successfully processed.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.b.rdb.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("acking %s/%s: %w", c.stream, c.group, err)
	}
	return nil
}

// ReclaimStale scans the group's pending entry list for entries idle longer
// than minIdle, claims them for this consumer, and routes any that have
// already exhausted MaxDeliveries to the stream's dead-letter counterpart
// instead of returning them for another attempt.
func (c *Consumer) ReclaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	pending, err := c.b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing pending on %s/%s: %w", c.stream, c.group, err)
	}

	var claimIDs, deadIDs []string
	for _, p := range pending {
		if p.Idle < minIdle {
			continue
		}
		if p.RetryCount >= MaxDeliveries {
			deadIDs = append(deadIDs, p.ID)
			continue
		}
		claimIDs = append(claimIDs, p.ID)
	}

	if len(deadIDs) > 0 {
		if err := c.deadLetter(ctx, deadIDs); err != nil {
			return nil, err
		}
	}

	if len(claimIDs) == 0 {
		return nil, nil
	}

	entries, err := c.b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.name,
		MinIdle:  minIdle,
		Messages: claimIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming %s/%s: %w", c.stream, c.group, err)
	}

	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, Message{ID: entry.ID, Stream: c.stream, Fields: entry.Values})
	}
	return out, nil
}

func (c *Consumer) deadLetter(ctx context.Context, ids []string) error {
	dlq := DeadLetterStream(c.stream)
	for _, id := range ids {
		res, err := c.b.rdb.XRangeN(ctx, c.stream, id, id, 1).Result()
		if err != nil {
			return fmt.Errorf("reading dead-lettered entry %s: %w", id, err)
		}
		if len(res) == 1 {
			if _, err := c.b.Publish(ctx, dlq, res[0].Values); err != nil {
				return err
			}
		}
		if err := c.b.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
			return fmt.Errorf("acking dead-lettered entry %s: %w", id, err)
		}
	}
	return nil
}
