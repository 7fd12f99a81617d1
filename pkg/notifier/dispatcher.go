package notifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/guardantio/guardant/pkg/broker"
	"github.com/guardantio/guardant/pkg/service"
)

// maxAttempts bounds per-provider delivery retries before a delivery is
// dropped and logged — a dead tenant webhook must not stall the whole
// notification stream (§4.9 delivery contract).
const maxAttempts = 6

// Dispatcher consumes broker.NotificationsStream and fans each Event out to
// every provider configured on the affected Service's Notifications.
type Dispatcher struct {
	consumer *broker.Consumer
	services *service.Store
	registry *Registry
	log      *slog.Logger

	// retryInitial/retryMax parameterize the backoff between delivery
	// attempts; tests shrink these to avoid real sleeps.
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewDispatcher constructs a Dispatcher reading from consumer.
func NewDispatcher(consumer *broker.Consumer, services *service.Store, registry *Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		consumer:     consumer,
		services:     services,
		registry:     registry,
		log:          log,
		retryInitial: time.Minute,
		retryMax:     30 * time.Minute,
	}
}

// Run polls the stream until ctx is cancelled, dispatching each delivered
// event and acking it once every configured target has been attempted —
// individual provider failures are retried internally and never cause a
// redelivery of the whole event.
func (d *Dispatcher) Run(ctx context.Context) error {
	return broker.RunConsumeLoop(ctx, func(ctx context.Context) error {
		msgs, err := d.consumer.Read(ctx, 20, 5*time.Second)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			d.handle(ctx, msg)
		}
		return nil
	})
}

func (d *Dispatcher) handle(ctx context.Context, msg broker.Message) {
	raw, ok := msg.Fields["payload"]
	if !ok {
		d.log.Warn("notification message missing payload field", "messageId", msg.ID)
		d.ack(ctx, msg.ID)
		return
	}
	s, ok := raw.(string)
	if !ok {
		d.log.Warn("notification payload field is not a string", "messageId", msg.ID)
		d.ack(ctx, msg.ID)
		return
	}
	ev, err := DecodeEvent([]byte(s))
	if err != nil {
		d.log.Warn("dropping malformed notification event", "error", err, "messageId", msg.ID)
		d.ack(ctx, msg.ID)
		return
	}

	svc, err := d.services.Get(ctx, ev.ServiceID)
	if err != nil {
		d.log.Warn("dropping notification for unknown service", "serviceId", ev.ServiceID, "error", err)
		d.ack(ctx, msg.ID)
		return
	}

	for _, target := range svc.Notifications.Webhooks {
		d.deliver(ctx, "webhook", target, ev)
	}
	for _, target := range svc.Notifications.Emails {
		d.deliver(ctx, "email", target, ev)
	}
	for _, target := range svc.Notifications.SlackChannels {
		d.deliver(ctx, "slack", target, ev)
	}

	d.ack(ctx, msg.ID)
}

// deliver attempts delivery through the named provider with backoff,
// logging and giving up after maxAttempts rather than blocking the stream.
func (d *Dispatcher) deliver(ctx context.Context, providerName, target string, ev Event) {
	p, ok := d.registry.Get(providerName)
	if !ok {
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryInitial
	b.MaxInterval = d.retryMax
	b.Multiplier = 2

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.Deliver(ctx, target, ev)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		d.log.Warn("notification delivery failed",
			"provider", providerName, "target", target, "attempt", attempt, "error", err)
		if attempt == maxAttempts {
			d.log.Error("giving up on notification delivery",
				"provider", providerName, "target", target, "event", ev.Type)
			return
		}

		wait := b.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) ack(ctx context.Context, id string) {
	if err := d.consumer.Ack(ctx, id); err != nil {
		d.log.Error("failed to ack notification message", "messageId", id, "error", err)
	}
}
