package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// deadlineGrace is the extra headroom every execute() path is allowed
// beyond the command's own timeout (§4.1 contract: timeoutMs + 250ms).
const deadlineGrace = 250 * time.Millisecond

// Engine executes ProbeCommands via a Registry of per-type Executors.
type Engine struct {
	registry *Registry
	workerID string
	regionID string
}

// NewEngine creates an Engine bound to a worker/region identity, stamped
// onto every Result it produces.
func NewEngine(registry *Registry, workerID, regionID string) *Engine {
	return &Engine{registry: registry, workerID: workerID, regionID: regionID}
}

// WorkerID returns the worker identity this Engine stamps onto Results.
func (e *Engine) WorkerID() string { return e.workerID }

// RegionID returns the region identity this Engine stamps onto Results.
func (e *Engine) RegionID() string { return e.regionID }

// Execute runs one ProbeCommand to completion with the full timeoutMs
// budget, recovering any panic from the underlying Executor into a
// down/internal_error Result rather than letting it propagate — the single
// most important invariant of this component is that it never crashes its
// caller.
func (e *Engine) Execute(ctx context.Context, cmd Command) (result Result) {
	return e.execute(ctx, cmd, time.Duration(cmd.ServiceSnapshot.TimeoutMs)*time.Millisecond)
}

// ExecuteWithBudget runs cmd like Execute but bounds the executor to budget
// instead of the command's full timeoutMs — the worker pool uses this with
// min(command.timeoutMs, deadline-now) so a command that is already
// running late doesn't get a fresh full timeout window (§4.2 step 2).
// deadlineGrace still applies on top, so the safety ceiling in execute's
// deadline-exceeded case is always budget+250ms, never less.
func (e *Engine) ExecuteWithBudget(ctx context.Context, cmd Command, budget time.Duration) (result Result) {
	return e.execute(ctx, cmd, budget)
}

func (e *Engine) execute(ctx context.Context, cmd Command, budget time.Duration) (result Result) {
	started := time.Now()

	if budget < 0 {
		budget = 0
	}
	execCtx, cancel := context.WithTimeout(ctx, budget+deadlineGrace)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = e.finalize(cmd, started, Result{
				Status:     StatusDown,
				Message:    msg(fmt.Sprintf("probe executor panicked: %v", r)),
				ErrorClass: errClass(ErrorClassInternal),
			})
		}
	}()

	executor, err := e.registry.Get(cmd.ServiceSnapshot.Type)
	if err != nil {
		return e.finalize(cmd, started, Result{
			Status:     StatusDown,
			Message:    msg(err.Error()),
			ErrorClass: errClass(ErrorClassValidation),
		})
	}

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{
					Status:     StatusDown,
					Message:    msg(fmt.Sprintf("probe executor panicked: %v", r)),
					ErrorClass: errClass(ErrorClassInternal),
				}
			}
		}()
		done <- executor.Execute(execCtx, cmd)
	}()

	select {
	case r := <-done:
		return e.finalize(cmd, started, r)
	case <-execCtx.Done():
		return e.finalize(cmd, started, Result{
			Status:     StatusDown,
			Message:    msg("probe deadline exceeded"),
			ErrorClass: errClass(ErrorClassTimeout),
		})
	}
}

// finalize stamps the identity, timing, and resultId fields common to every
// Result, regardless of which executor produced it.
func (e *Engine) finalize(cmd Command, started time.Time, r Result) Result {
	r.ResultID = uuid.New()
	r.CommandID = cmd.CommandID
	r.ServiceID = cmd.ServiceSnapshot.ID
	r.NestID = cmd.ServiceSnapshot.NestID
	r.WorkerID = e.workerID
	r.RegionID = e.regionID
	r.StartedAt = started
	r.DurationMs = time.Since(started).Milliseconds()
	return r
}
