package ingestor

import (
	"context"
	"time"

	"github.com/guardantio/guardant/pkg/broker"
)

// Run drains results.ingest with competing consumers across Ingestor
// replicas (§4.4), acking each message only once Handle returns nil — a
// returned transport error leaves the message unacked so it is redelivered
// or, past MaxDeliveries, dead-lettered by a later ReclaimStale sweep.
func (i *Ingestor) Run(ctx context.Context, consumer *broker.Consumer) error {
	return broker.RunConsumeLoop(ctx, func(ctx context.Context) error {
		msgs, err := consumer.Read(ctx, 50, 5*time.Second)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := i.Handle(ctx, msg); err != nil {
				i.log.Error("handling result failed, leaving unacked for redelivery", "messageId", msg.ID, "error", err)
				continue
			}
			if err := consumer.Ack(ctx, msg.ID); err != nil {
				i.log.Error("failed to ack result message", "messageId", msg.ID, "error", err)
			}
		}
		return nil
	})
}

// RunReclaimer periodically reclaims results.ingest entries abandoned by a
// crashed Ingestor replica, so at-least-once delivery survives a replica
// dying mid-handle (§8 property 3).
func RunReclaimer(ctx context.Context, consumer *broker.Consumer, minIdle time.Duration, i *Ingestor) {
	ticker := time.NewTicker(minIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := consumer.ReclaimStale(ctx, minIdle, 100)
			if err != nil {
				i.log.Error("reclaiming stale results failed", "error", err)
				continue
			}
			for _, msg := range msgs {
				if err := i.Handle(ctx, msg); err != nil {
					i.log.Error("handling reclaimed result failed", "messageId", msg.ID, "error", err)
					continue
				}
				if err := consumer.Ack(ctx, msg.ID); err != nil {
					i.log.Error("failed to ack reclaimed result message", "messageId", msg.ID, "error", err)
				}
			}
		}
	}
}
