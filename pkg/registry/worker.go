// Package registry implements the Worker Registry (C8): the sole writer of
// WorkerAnt records, the only public HTTP surface this core owns
// (registration + install script), and the 90s staleness sweep that keeps
// the Scheduler's capacity math honest (§4.8).
package registry

import "time"

// Status is a WorkerAnt's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusActive   Status = "active"
	StatusDraining Status = "draining"
	StatusRevoked  Status = "revoked"
	// StatusStale is derived by the reaping sweep, not set by the worker
	// itself: an `active` worker whose heartbeat is older than
	// StaleAfter is excluded from capacity math until it heartbeats again.
	StatusStale Status = "stale"
)

// StaleAfter is the heartbeat staleness threshold (§4.8, §6).
const StaleAfter = 90 * time.Second

// Capabilities describes what a worker can do.
type Capabilities struct {
	Types          []string `json:"types"`
	MaxConcurrency int      `json:"maxConcurrency"`
}

// BrokerCredentials are the per-worker Redis ACL identity issued on
// approval (§4.2 step d, §4.8 approve). This package only generates the
// username/password pair; it does not create the matching Redis ACL user
// or restrict which streams it may touch.
type BrokerCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Worker is a WorkerAnt (§3).
type Worker struct {
	WorkerID          string            `json:"workerId"`
	RegionID          string            `json:"regionId"`
	Capabilities      Capabilities      `json:"capabilities"`
	Version           string            `json:"version"`
	Status            Status            `json:"status"`
	OwnerEmail        string            `json:"ownerEmail"`
	RegisteredAt      time.Time         `json:"registeredAt"`
	LastHeartbeatAt   time.Time         `json:"lastHeartbeatAt"`
	CountersCompleted int64             `json:"countersCompleted"`
	CountersFailed    int64             `json:"countersFailed"`
	BrokerCredentials BrokerCredentials `json:"brokerCredentials"`
}

// IsStale reports whether an active worker's heartbeat has aged out.
func (w Worker) IsStale(now time.Time) bool {
	return w.Status == StatusActive && now.Sub(w.LastHeartbeatAt) > StaleAfter
}
