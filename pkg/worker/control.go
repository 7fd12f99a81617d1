package worker

import (
	"context"
	"time"

	"github.com/guardantio/guardant/pkg/broker"
)

// controlCommand is the fixed taxonomy of messages the Registry (or an
// operator-facing tool) can send a specific worker (§4.2 Control messages).
type controlCommand string

const (
	controlPause  controlCommand = "pause"
	controlResume controlCommand = "resume"
	controlDrain  controlCommand = "drain"
	controlRevoke controlCommand = "revoke"
	controlUpdate controlCommand = "update"
)

// runControl consumes this worker's dedicated, auto-delete control queue
// (§4.4 Exchange control: routing key control.<workerId>, non-durable
// queue) and reacts to lifecycle commands. triggerRevoke tears down the
// current steady-state loop so Run re-enters registration.
func (w *Worker) runControl(ctx context.Context, triggerRevoke func()) {
	stream := broker.ControlStream(w.cfg.WorkerID)
	group := "control-" + w.cfg.WorkerID
	if err := w.b.EnsureGroup(ctx, stream, group); err != nil {
		w.log.Error("ensuring control consumer group failed", "error", err)
		return
	}
	consumer := broker.NewConsumer(w.b, stream, group, w.cfg.WorkerID)

	_ = broker.RunConsumeLoop(ctx, func(ctx context.Context) error {
		msgs, err := consumer.Read(ctx, 10, 5*time.Second)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			w.handleControl(ctx, msg, triggerRevoke)
			if err := consumer.Ack(ctx, msg.ID); err != nil {
				w.log.Error("failed to ack control message", "messageId", msg.ID, "error", err)
			}
		}
		return nil
	})
}

func (w *Worker) handleControl(_ context.Context, msg broker.Message, triggerRevoke func()) {
	cmd, _ := msg.Fields["command"].(string)
	switch controlCommand(cmd) {
	case controlPause:
		w.log.Info("control: paused — no new commands until resume")
		w.setMode(modeDraining)
	case controlDrain:
		w.log.Info("control: draining — no new commands, finishing in-flight")
		w.setMode(modeDraining)
	case controlResume:
		w.log.Info("control: resuming")
		w.setMode(modeActive)
	case controlRevoke:
		w.log.Warn("control: revoked — closing subscriptions and re-registering")
		w.setMode(modeRevoked)
		triggerRevoke()
	case controlUpdate:
		url, _ := msg.Fields["binaryUrl"].(string)
		w.log.Info("control: update requested, restart required to apply", "binaryUrl", url)
		// Fetching and exec'ing a new binary is deployment-tooling
		// territory (orchestrator/supervisor concern); this core only
		// surfaces the request so the supervising process can act on it.
	default:
		w.log.Warn("control: unknown command", "command", cmd)
	}
}
