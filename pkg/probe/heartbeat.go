package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/guardantio/guardant/pkg/service"
)

// HeartbeatLookup resolves the last-seen timestamp for a heartbeatId. The
// "heartbeat" probe type is a pull against this store rather than a push
// (§9 open question, resolved in favor of pull semantics).
type HeartbeatLookup interface {
	LastHeartbeat(ctx context.Context, heartbeatID string) (time.Time, bool, error)
}

// HeartbeatExecutor implements the "heartbeat" probe type.
type HeartbeatExecutor struct {
	lookup HeartbeatLookup
}

// NewHeartbeatExecutor builds a HeartbeatExecutor backed by lookup.
func NewHeartbeatExecutor(lookup HeartbeatLookup) *HeartbeatExecutor {
	return &HeartbeatExecutor{lookup: lookup}
}

func (e *HeartbeatExecutor) Execute(ctx context.Context, cmd Command) Result {
	cfg, err := service.DecodeHeartbeatConfig(cmd.ServiceSnapshot.TypeConfig)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassValidation)}
	}
	if e.lookup == nil {
		return Result{Status: StatusDown, Message: msg("heartbeat lookup not configured"), ErrorClass: errClass(ErrorClassInternal)}
	}

	last, found, err := e.lookup.LastHeartbeat(ctx, cfg.HeartbeatID)
	if err != nil {
		return Result{Status: StatusDown, Message: msg(err.Error()), ErrorClass: errClass(ErrorClassInternal)}
	}
	if !found {
		return Result{Status: StatusDown, Message: msg("no heartbeat ever recorded"), ErrorClass: errClass(ErrorClassValidation)}
	}

	age := time.Since(last)
	tolerance := time.Duration(cfg.ToleranceMs) * time.Millisecond
	if age <= tolerance {
		return Result{Status: StatusUp, Details: marshalDetails(map[string]any{"ageMs": age.Milliseconds()})}
	}
	return Result{
		Status:     StatusDown,
		Message:    msg(fmt.Sprintf("last heartbeat %s ago exceeds tolerance %s", age, tolerance)),
		ErrorClass: errClass(ErrorClassValidation),
		Details:    marshalDetails(map[string]any{"ageMs": age.Milliseconds()}),
	}
}
