package probe

import (
	"context"
	"fmt"

	"github.com/guardantio/guardant/pkg/service"
)

// Executor executes one probe of a specific Service.Type against a target.
// Implementations must respect ctx's deadline and never panic; the Engine
// recovers panics centrally as a defense in depth, but a well-behaved
// Executor should not rely on that.
type Executor interface {
	Execute(ctx context.Context, cmd Command) Result
}

// Registry maps a Service.Type to the Executor that handles it — the same
// provider-registry shape used elsewhere in this codebase for pluggable
// backends, here repurposed for probe executors instead of chat providers.
type Registry struct {
	executors map[service.Type]Executor
}

// NewRegistry builds a Registry with every built-in probe type registered.
func NewRegistry(heartbeats HeartbeatLookup) *Registry {
	r := &Registry{executors: make(map[service.Type]Executor)}

	r.Register(service.TypeWeb, NewWebExecutor())
	r.Register(service.TypeKeyword, NewKeywordExecutor())
	r.Register(service.TypeTCP, NewTCPExecutor())
	r.Register(service.TypePort, NewTCPExecutor()) // port is an alias of tcp (§4.1)
	r.Register(service.TypePing, NewPingExecutor())
	r.Register(service.TypeDNS, NewDNSExecutor())
	r.Register(service.TypeHeartbeat, NewHeartbeatExecutor(heartbeats))
	r.Register(service.TypeGitHub, NewGitHubExecutor())
	r.Register(service.TypeUptimeAPI, NewUptimeAPIExecutor())

	return r
}

// Register adds or replaces the Executor for a Service.Type.
func (r *Registry) Register(t service.Type, e Executor) {
	r.executors[t] = e
}

// Get returns the Executor registered for t.
func (r *Registry) Get(t service.Type) (Executor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no probe executor registered for type %q", t)
	}
	return e, nil
}
