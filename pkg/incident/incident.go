// Package incident models an ongoing disruption of one Service (§3) and the
// down-observed/up-observed state machine that opens and resolves it (§4.6).
package incident

import (
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/pkg/probe"
)

// Incident is an ongoing disruption of one Service. At most one Incident
// with ClosedAt == nil may exist per ServiceID at any time (§8 property 2).
type Incident struct {
	IncidentID     uuid.UUID  `json:"incidentId"`
	ServiceID      uuid.UUID  `json:"serviceId"`
	NestID         uuid.UUID  `json:"nestId"`
	OpenedAt       time.Time  `json:"openedAt"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	Reason         string     `json:"reason"`
	AffectedChecks int        `json:"affectedChecks"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
	// recoveryCount tracks consecutive up observations while OPEN, internal
	// to the state machine rather than part of the wire-exact §3 schema.
	recoveryCount int
}

// IsOpen reports whether the incident has not yet been closed.
func (i Incident) IsOpen() bool { return i.ClosedAt == nil }

// ReasonFromErrorClass picks the dominant errorClass as the incident reason.
// Which of several equally common classes is picked is not defined.
func ReasonFromErrorClass(counts map[probe.ErrorClass]int) string {
	var best probe.ErrorClass
	bestCount := -1
	for class, count := range counts {
		if count > bestCount {
			best, bestCount = class, count
		}
	}
	return string(best)
}
