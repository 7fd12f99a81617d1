package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/internal/telemetry"
	"github.com/guardantio/guardant/pkg/broker"
	"github.com/guardantio/guardant/pkg/probe"
	"github.com/guardantio/guardant/pkg/service"
)

// runPool drives the bounded worker pool against the region's shared probe
// queue: message consumption is single-consumer cooperative, but up to
// MaxConcurrency commands execute concurrently (§4.2, §5 Scheduling model).
func (w *Worker) runPool(ctx context.Context, region string, engine *probe.Engine) {
	stream := broker.ProbeStream(region)
	if err := w.b.EnsureGroup(ctx, stream, broker.GroupWorker); err != nil {
		w.log.Error("ensuring probe consumer group failed", "stream", stream, "error", err)
		return
	}
	consumer := broker.NewConsumer(w.b, stream, broker.GroupWorker, w.cfg.WorkerID)

	sem := make(chan struct{}, w.cfg.Capabilities.MaxConcurrency)

	_ = broker.RunConsumeLoop(ctx, func(ctx context.Context) error {
		if w.getMode() == modeDraining {
			// Draining: stop pulling new work but let in-flight commands
			// (already holding a sem slot) finish naturally (§4.2 control).
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		}

		msgs, err := consumer.Read(ctx, int64(w.cfg.Capabilities.MaxConcurrency), 5*time.Second)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			msg := msg
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			go func() {
				defer func() { <-sem }()
				w.handleCommand(ctx, consumer, msg, engine)
			}()
		}
		return nil
	})
}

func (w *Worker) handleCommand(ctx context.Context, consumer *broker.Consumer, msg broker.Message, engine *probe.Engine) {
	cmd, err := decodeCommand(msg.Fields)
	if err != nil {
		w.log.Warn("dropping malformed probe command", "error", err, "messageId", msg.ID)
		w.ack(ctx, consumer, msg.ID)
		return
	}

	now := time.Now().UnixMilli()
	var result probe.Result
	if cmd.Attempt > maxAttempts || now > cmd.Deadline {
		result = timeoutResult(cmd, engine, now)
	} else {
		// §4.2 step 2: bound the executor to whichever is sooner, the
		// command's own timeoutMs or what's left before its deadline — a
		// command that arrived most of the way to its deadline shouldn't
		// get a fresh full timeoutMs window to run in.
		budget := time.Duration(cmd.ServiceSnapshot.TimeoutMs) * time.Millisecond
		if remaining := time.Duration(cmd.Deadline-now) * time.Millisecond; remaining < budget {
			budget = remaining
		}
		result = engine.ExecuteWithBudget(ctx, cmd, budget)
	}

	telemetry.ProbesExecutedTotal.WithLabelValues(string(cmd.ServiceSnapshot.Type), string(result.Status)).Inc()
	telemetry.ProbeDuration.WithLabelValues(string(cmd.ServiceSnapshot.Type)).Observe(float64(result.DurationMs) / 1000)

	// Store before ack: a crash between these two lines causes broker
	// redelivery rather than a silently lost result (§4.2 step 4).
	if err := w.cache.Append(result.ResultID.String(), result); err != nil {
		w.log.Error("appending result to local cache failed", "resultId", result.ResultID, "error", err)
		return // do not ack: let the broker redeliver
	}
	w.ack(ctx, consumer, msg.ID)
}

func (w *Worker) ack(ctx context.Context, consumer *broker.Consumer, id string) {
	if err := consumer.Ack(ctx, id); err != nil {
		w.log.Error("failed to ack probe command", "messageId", id, "error", err)
	}
}

// timeoutResult synthesizes a down/timeout Result without invoking the
// Probe Engine, for commands that arrived too stale to be worth running
// (§4.2 step 1).
func timeoutResult(cmd probe.Command, engine *probe.Engine, now int64) probe.Result {
	msg := "command exceeded max attempts or deadline before execution"
	errClass := probe.ErrorClassTimeout
	return probe.Result{
		ResultID:   uuid.New(),
		CommandID:  cmd.CommandID,
		ServiceID:  cmd.ServiceSnapshot.ID,
		NestID:     cmd.ServiceSnapshot.NestID,
		WorkerID:   engine.WorkerID(),
		RegionID:   engine.RegionID(),
		StartedAt:  time.UnixMilli(now),
		DurationMs: 0,
		Status:     probe.StatusDown,
		Message:    &msg,
		ErrorClass: &errClass,
	}
}

// decodeCommand reverses the flat field encoding the Scheduler publishes
// with (pkg/scheduler.publish) — every value round-trips through Redis
// Streams as a string regardless of the Go type it was published with.
func decodeCommand(fields map[string]any) (probe.Command, error) {
	commandID, err := uuid.Parse(fieldStr(fields["commandId"]))
	if err != nil {
		return probe.Command{}, fmt.Errorf("parsing commandId: %w", err)
	}
	serviceID, err := uuid.Parse(fieldStr(fields["serviceId"]))
	if err != nil {
		return probe.Command{}, fmt.Errorf("parsing serviceId: %w", err)
	}
	nestID, err := uuid.Parse(fieldStr(fields["nestId"]))
	if err != nil {
		return probe.Command{}, fmt.Errorf("parsing nestId: %w", err)
	}

	typeConfig := json.RawMessage(fieldStr(fields["typeConfig"]))
	if len(typeConfig) == 0 {
		typeConfig = json.RawMessage("{}")
	}

	timeoutMs, err := fieldInt(fields["timeoutMs"])
	if err != nil {
		return probe.Command{}, fmt.Errorf("parsing timeoutMs: %w", err)
	}
	scheduledAt, err := fieldInt64(fields["scheduledAt"])
	if err != nil {
		return probe.Command{}, fmt.Errorf("parsing scheduledAt: %w", err)
	}
	deadline, err := fieldInt64(fields["deadline"])
	if err != nil {
		return probe.Command{}, fmt.Errorf("parsing deadline: %w", err)
	}
	attempt, err := fieldInt(fields["attempt"])
	if err != nil {
		return probe.Command{}, fmt.Errorf("parsing attempt: %w", err)
	}

	return probe.Command{
		CommandID: commandID,
		ServiceSnapshot: service.Snapshot{
			ID:         serviceID,
			NestID:     nestID,
			Type:       service.Type(fieldStr(fields["type"])),
			Target:     fieldStr(fields["target"]),
			TypeConfig: typeConfig,
			TimeoutMs:  timeoutMs,
		},
		ScheduledAt: scheduledAt,
		Deadline:    deadline,
		Attempt:     attempt,
	}, nil
}

func fieldStr(v any) string {
	s, _ := v.(string)
	return s
}

func fieldInt(v any) (int, error) {
	n, err := fieldInt64(v)
	return int(n), err
}

func fieldInt64(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("field is not a string")
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-numeric field %q", s)
		}
		n = n*10 + int64(r-'0')
	}
	return n, nil
}

// encodeResult mirrors ingestor.decodeResult's wire shape: a single JSON
// string field so the Ingestor's decoder works unchanged regardless of
// which component published to results.ingest.
func encodeResult(result probe.Result) (map[string]any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": string(raw)}, nil
}
