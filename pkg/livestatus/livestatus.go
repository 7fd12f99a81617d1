// Package livestatus maintains the short-lived, per-service current view
// derived from the latest ProbeResult seen in each region (§3 LiveStatus).
package livestatus

import (
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/pkg/probe"
)

// RegionSnapshot is the latest known outcome for one region.
type RegionSnapshot struct {
	LastStatus     probe.Status `json:"lastStatus"`
	LastDurationMs int64        `json:"lastDurationMs"`
	LastAt         time.Time    `json:"lastAt"`
}

// LiveStatus is the current aggregated view of a Service across regions.
type LiveStatus struct {
	ServiceID        uuid.UUID                 `json:"serviceId"`
	NestID           uuid.UUID                 `json:"nestId"`
	LastResult       *probe.Result              `json:"lastResult,omitempty"`
	PerRegion        map[string]RegionSnapshot `json:"perRegion"`
	AggregatedStatus probe.Status              `json:"aggregatedStatus"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
}

// TTL is the state-store TTL for a LiveStatus entry (§6: status:{nestId}:{serviceId}, TTL 300s).
const TTL = 5 * time.Minute

// ApplyResult folds a new ProbeResult into a LiveStatus, updating the
// region it came from and leaving all other regions untouched.
func ApplyResult(current LiveStatus, result probe.Result) LiveStatus {
	if current.PerRegion == nil {
		current.PerRegion = make(map[string]RegionSnapshot)
	}
	current.ServiceID = result.ServiceID
	current.NestID = result.NestID
	current.PerRegion[result.RegionID] = RegionSnapshot{
		LastStatus:     result.Status,
		LastDurationMs: result.DurationMs,
		LastAt:         result.StartedAt,
	}
	r := result
	current.LastResult = &r
	current.UpdatedAt = time.Now()
	return current
}
