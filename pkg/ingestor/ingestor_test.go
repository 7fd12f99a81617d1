package ingestor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/guardantio/guardant/pkg/probe"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestDecodeResult(t *testing.T) {
	want := probe.Result{ResultID: uuid.New(), ServiceID: uuid.New(), Status: probe.StatusUp}
	raw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := decodeResult(map[string]any{"result": string(raw)})
	if err != nil {
		t.Fatalf("decodeResult: %v", err)
	}
	if got.ResultID != want.ResultID || got.Status != want.Status {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	if _, err := decodeResult(map[string]any{}); err == nil {
		t.Fatalf("expected error for missing result field")
	}
	if _, err := decodeResult(map[string]any{"result": "not json"}); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestIngestor_Idempotency(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	ing := New(rdb, nil, nil, nil, nil, nil, nil)

	resultID := uuid.New().String()
	seen, err := ing.alreadyProcessed(ctx, resultID)
	if err != nil {
		t.Fatalf("alreadyProcessed: %v", err)
	}
	if seen {
		t.Fatalf("unprocessed resultId reported already seen")
	}

	if err := ing.markProcessed(ctx, resultID); err != nil {
		t.Fatalf("markProcessed: %v", err)
	}

	seen, err = ing.alreadyProcessed(ctx, resultID)
	if err != nil {
		t.Fatalf("alreadyProcessed second call: %v", err)
	}
	if !seen {
		t.Fatalf("resultId marked processed should report seen=true")
	}
}
