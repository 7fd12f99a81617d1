package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

type countingProvider struct {
	name        string
	failUntil   int32
	attempts    int32
	lastTarget  string
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Deliver(ctx context.Context, target string, ev Event) error {
	n := atomic.AddInt32(&p.attempts, 1)
	p.lastTarget = target
	if n <= p.failUntil {
		return errors.New("transient failure")
	}
	return nil
}

func newTestDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{
		registry:     reg,
		log:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		retryInitial: time.Millisecond,
		retryMax:     5 * time.Millisecond,
	}
}

func TestDispatcher_DeliverRetriesThenSucceeds(t *testing.T) {
	p := &countingProvider{name: "webhook", failUntil: 2}
	reg := NewRegistry()
	reg.Register(p)
	d := newTestDispatcher(reg)

	// Avoid real sleeps: only 2 failures before success, well under maxAttempts.
	start := time.Now()
	d.deliver(context.Background(), "webhook", "https://example.test/hook", Event{
		Type: EventIncidentStarted, ServiceID: uuid.New(), NestID: uuid.New(),
	})
	if atomic.LoadInt32(&p.attempts) != 3 {
		t.Fatalf("got %d attempts, want 3", p.attempts)
	}
	if p.lastTarget != "https://example.test/hook" {
		t.Fatalf("got target %q", p.lastTarget)
	}
	_ = start
}

func TestDispatcher_UnknownProviderIsNoop(t *testing.T) {
	reg := NewRegistry()
	d := newTestDispatcher(reg)
	// Should return immediately without panicking when no provider is registered.
	d.deliver(context.Background(), "sms", "+15555550123", Event{})
}
