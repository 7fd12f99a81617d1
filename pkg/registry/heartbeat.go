package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/guardantio/guardant/pkg/broker"
)

// HeartbeatConsumer drains the fleet heartbeat stream (§4.4 Exchange
// heartbeat, fanout to registry.heartbeats) and folds each WorkerAnt's
// counters into the Registry, the only path by which a worker's liveness
// crosses process boundaries back to the Registry's state.
type HeartbeatConsumer struct {
	consumer *broker.Consumer
	registry *Registry
	log      *slog.Logger
}

func NewHeartbeatConsumer(consumer *broker.Consumer, registry *Registry, log *slog.Logger) *HeartbeatConsumer {
	return &HeartbeatConsumer{consumer: consumer, registry: registry, log: log}
}

// Run polls the heartbeat stream until ctx is cancelled.
func (c *HeartbeatConsumer) Run(ctx context.Context) error {
	return broker.RunConsumeLoop(ctx, func(ctx context.Context) error {
		msgs, err := c.consumer.Read(ctx, 50, 5*time.Second)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
		return nil
	})
}

func (c *HeartbeatConsumer) handle(ctx context.Context, msg broker.Message) {
	workerID, _ := msg.Fields["workerId"].(string)
	if workerID == "" {
		c.log.Warn("dropping malformed heartbeat", "messageId", msg.ID)
		c.ack(ctx, msg.ID)
		return
	}

	completed := fieldInt64(msg.Fields["countersCompleted"])
	failed := fieldInt64(msg.Fields["countersFailed"])

	if _, err := c.registry.Heartbeat(ctx, workerID, Counters{Completed: completed, Failed: failed}); err != nil {
		c.log.Warn("recording heartbeat failed", "workerId", workerID, "error", err)
	}
	c.ack(ctx, msg.ID)
}

func (c *HeartbeatConsumer) ack(ctx context.Context, id string) {
	if err := c.consumer.Ack(ctx, id); err != nil {
		c.log.Error("failed to ack heartbeat message", "messageId", id, "error", err)
	}
}

// fieldInt64 best-effort coerces a Redis stream field (always a string on
// the wire) to an int64 counter delta, tolerating a missing/malformed field
// as zero rather than dropping the whole heartbeat.
func fieldInt64(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}

// RunReaper periodically marks overdue-heartbeat workers stale (§4.8), on
// the interval given — production wiring uses StaleAfter/3 so a worker
// never sits un-reaped for more than a third of its own staleness window.
func RunReaper(ctx context.Context, registry *Registry, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := registry.Reap(ctx); err != nil {
				log.Error("worker reap sweep failed", "error", err)
			} else if n > 0 {
				log.Info("reaped stale workers", "count", n)
			}
		}
	}
}
