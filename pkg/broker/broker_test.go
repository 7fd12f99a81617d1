package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestPublishAndConsume(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	stream := ProbeStream("eu-west-1")

	if err := b.EnsureGroup(ctx, stream, GroupWorker); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}

	if _, err := b.Publish(ctx, stream, map[string]any{"serviceId": "svc-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	consumer := NewConsumer(b, stream, GroupWorker, "worker-1")
	msgs, err := consumer.Read(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Fields["serviceId"] != "svc-1" {
		t.Fatalf("got fields %+v", msgs[0].Fields)
	}

	if err := consumer.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)
	stream := ResultsStream

	if err := b.EnsureGroup(ctx, stream, GroupIngestor); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if _, err := b.Publish(ctx, stream, map[string]any{"resultId": "r-1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	crashed := NewConsumer(b, stream, GroupIngestor, "ingestor-dead")
	if _, err := crashed.Read(ctx, 10, 0); err != nil {
		t.Fatalf("initial Read: %v", err)
	}
	// crashed never Acks; another consumer should be able to reclaim it
	// once it's been idle for at least 0s (miniredis tracks idle as wall time).

	survivor := NewConsumer(b, stream, GroupIngestor, "ingestor-live")
	claimed, err := survivor.ReclaimStale(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("got %d reclaimed, want 1", len(claimed))
	}
	if claimed[0].Fields["resultId"] != "r-1" {
		t.Fatalf("got fields %+v", claimed[0].Fields)
	}

	if err := survivor.Ack(ctx, claimed[0].ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestRunConsumeLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)

	go func() {
		done <- RunConsumeLoop(ctx, func(ctx context.Context) error {
			calls++
			if calls == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected context.Canceled, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConsumeLoop did not stop after cancel")
	}
}
