package probe

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/pkg/service"
)

type panicExecutor struct{}

func (panicExecutor) Execute(ctx context.Context, cmd Command) Result {
	panic("boom")
}

type slowExecutor struct{ delay time.Duration }

func (s slowExecutor) Execute(ctx context.Context, cmd Command) Result {
	select {
	case <-time.After(s.delay):
		return Result{Status: StatusUp}
	case <-ctx.Done():
		return Result{Status: StatusDown, ErrorClass: errClass(ErrorClassTimeout)}
	}
}

func newTestCommand(timeoutMs int) Command {
	return Command{
		CommandID: uuid.New(),
		ServiceSnapshot: service.Snapshot{
			ID:        uuid.New(),
			NestID:    uuid.New(),
			Type:      "custom",
			TimeoutMs: timeoutMs,
		},
	}
}

func TestEngineExecute_RecoversPanic(t *testing.T) {
	reg := &Registry{executors: map[service.Type]Executor{"custom": panicExecutor{}}}
	e := NewEngine(reg, "worker-1", "eu-west-1")

	result := e.Execute(context.Background(), newTestCommand(1000))

	if result.Status != StatusDown {
		t.Fatalf("status = %q, want down", result.Status)
	}
	if result.ErrorClass == nil || *result.ErrorClass != ErrorClassInternal {
		t.Fatalf("errorClass = %v, want internal_error", result.ErrorClass)
	}
}

func TestEngineExecute_DeadlineExceeded(t *testing.T) {
	reg := &Registry{executors: map[service.Type]Executor{"custom": slowExecutor{delay: 2 * time.Second}}}
	e := NewEngine(reg, "worker-1", "eu-west-1")

	start := time.Now()
	result := e.Execute(context.Background(), newTestCommand(100))
	elapsed := time.Since(start)

	if result.Status != StatusDown {
		t.Fatalf("status = %q, want down", result.Status)
	}
	if result.ErrorClass == nil || *result.ErrorClass != ErrorClassTimeout {
		t.Fatalf("errorClass = %v, want timeout", result.ErrorClass)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("took %s, want well under timeoutMs+250ms contract", elapsed)
	}
}

func TestEngineExecute_UnknownType(t *testing.T) {
	reg := &Registry{executors: map[service.Type]Executor{}}
	e := NewEngine(reg, "worker-1", "eu-west-1")

	result := e.Execute(context.Background(), newTestCommand(1000))

	if result.Status != StatusDown {
		t.Fatalf("status = %q, want down", result.Status)
	}
	if result.ErrorClass == nil || *result.ErrorClass != ErrorClassValidation {
		t.Fatalf("errorClass = %v, want validation_error", result.ErrorClass)
	}
}

func TestEngineExecute_StampsIdentity(t *testing.T) {
	reg := &Registry{executors: map[service.Type]Executor{"custom": slowExecutor{delay: 0}}}
	e := NewEngine(reg, "worker-7", "us-east-1")
	cmd := newTestCommand(1000)

	result := e.Execute(context.Background(), cmd)

	if result.WorkerID != "worker-7" || result.RegionID != "us-east-1" {
		t.Fatalf("identity not stamped: %+v", result)
	}
	if result.CommandID != cmd.CommandID {
		t.Fatalf("commandId not propagated")
	}
	if result.ResultID == uuid.Nil {
		t.Fatalf("resultId not assigned")
	}
}
