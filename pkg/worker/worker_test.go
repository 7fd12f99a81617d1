package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDecodeCommand_RoundTrip(t *testing.T) {
	commandID := uuid.New()
	serviceID := uuid.New()
	nestID := uuid.New()

	fields := map[string]any{
		"commandId":   commandID.String(),
		"serviceId":   serviceID.String(),
		"nestId":      nestID.String(),
		"type":        "web",
		"target":      "https://example.com",
		"typeConfig":  `{"method":"GET"}`,
		"timeoutMs":   "5000",
		"scheduledAt": "1700000000000",
		"deadline":    "1700000005000",
		"attempt":     "1",
	}

	cmd, err := decodeCommand(fields)
	if err != nil {
		t.Fatalf("decodeCommand: %v", err)
	}
	if cmd.CommandID != commandID {
		t.Fatalf("got commandId %s, want %s", cmd.CommandID, commandID)
	}
	if cmd.ServiceSnapshot.ID != serviceID {
		t.Fatalf("got serviceId %s, want %s", cmd.ServiceSnapshot.ID, serviceID)
	}
	if cmd.ServiceSnapshot.TimeoutMs != 5000 {
		t.Fatalf("got timeoutMs %d, want 5000", cmd.ServiceSnapshot.TimeoutMs)
	}
	if cmd.Attempt != 1 {
		t.Fatalf("got attempt %d, want 1", cmd.Attempt)
	}
	if string(cmd.ServiceSnapshot.TypeConfig) != `{"method":"GET"}` {
		t.Fatalf("got typeConfig %s", cmd.ServiceSnapshot.TypeConfig)
	}
}

func TestDecodeCommand_RejectsMalformedUUID(t *testing.T) {
	_, err := decodeCommand(map[string]any{"commandId": "not-a-uuid"})
	if err == nil {
		t.Fatal("expected error for malformed commandId")
	}
}

func TestFieldInt64_RejectsNonNumeric(t *testing.T) {
	if _, err := fieldInt64("12a"); err == nil {
		t.Fatal("expected error for non-numeric field")
	}
	n, err := fieldInt64("42")
	if err != nil || n != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", n, err)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("got heartbeat interval %s, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.Capabilities.MaxConcurrency != 16 {
		t.Fatalf("got maxConcurrency %d, want 16", cfg.Capabilities.MaxConcurrency)
	}
}
