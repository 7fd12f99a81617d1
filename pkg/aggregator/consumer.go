package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/guardantio/guardant/pkg/broker"
	"github.com/guardantio/guardant/pkg/probe"
)

// RunConsumer drains aggregation.raw, folding each ProbeResult into the
// Aggregator's rolling buckets (§4.7). Malformed messages are acked and
// dropped rather than redelivered forever; a sink write failure is left
// unacked so the result is retried on redelivery.
func RunConsumer(ctx context.Context, consumer *broker.Consumer, agg *Aggregator, log *slog.Logger) error {
	return broker.RunConsumeLoop(ctx, func(ctx context.Context) error {
		msgs, err := consumer.Read(ctx, 50, 5*time.Second)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			result, err := decodeResult(msg.Fields)
			if err != nil {
				log.Warn("dropping malformed aggregation message", "error", err, "messageId", msg.ID)
				ack(ctx, consumer, msg.ID, log)
				continue
			}
			if err := agg.Ingest(ctx, result); err != nil {
				log.Error("ingesting result into aggregator failed, leaving unacked", "error", err, "messageId", msg.ID)
				continue
			}
			ack(ctx, consumer, msg.ID, log)
		}
		return nil
	})
}

func ack(ctx context.Context, consumer *broker.Consumer, id string, log *slog.Logger) {
	if err := consumer.Ack(ctx, id); err != nil {
		log.Error("failed to ack aggregation message", "messageId", id, "error", err)
	}
}

func decodeResult(fields map[string]any) (probe.Result, error) {
	raw, ok := fields["result"]
	if !ok {
		return probe.Result{}, errors.New("missing result field")
	}
	s, ok := raw.(string)
	if !ok {
		return probe.Result{}, errors.New("result field is not a string")
	}
	var r probe.Result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return probe.Result{}, err
	}
	return r, nil
}
