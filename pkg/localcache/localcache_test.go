package localcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guardantio/guardant/pkg/probe"
)

func TestCache_AppendAndAckCompacts(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 10, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := c.Append("r1", probe.Result{}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}

	if err := c.Ack("r1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Len after Ack = %d, want 0", c.Len())
	}
}

func TestCache_DropsOldestAtCapacity(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 2, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		if err := c.Append(id, probe.Result{}); err != nil {
			t.Fatalf("Append %s: %v", id, err)
		}
	}

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (oldest dropped)", c.Len())
	}
	peeked := c.Peek(2)
	if peeked[0].ID != "b" || peeked[1].ID != "c" {
		t.Fatalf("got ids %s,%s; want b,c", peeked[0].ID, peeked[1].ID)
	}
}

func TestCache_ReplaysAfterReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 10, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Append("r1", probe.Result{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reopened, err := Open(dir, 10, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 1 {
		t.Fatalf("Len after reopen = %d, want 1", reopened.Len())
	}
}

func TestFlusher_RetriesOnFailureThenDrains(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 10, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Append("r1", probe.Result{}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	attempts := 0
	publish := func(ctx context.Context, id string, r probe.Result) error {
		attempts++
		if attempts < 2 {
			return errors.New("broker unreachable")
		}
		return nil
	}

	flusher := NewFlusher(c, publish, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) && c.Len() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if c.Len() != 0 {
		t.Fatalf("cache not drained: Len = %d", c.Len())
	}
	if attempts < 2 {
		t.Fatalf("attempts = %d, want at least 2", attempts)
	}
}
