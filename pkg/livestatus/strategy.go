package livestatus

import (
	"time"

	"github.com/guardantio/guardant/pkg/probe"
	"github.com/guardantio/guardant/pkg/service"
)

// severity ranks probe.Status for tie-breaking (down > degraded > up), per §3.
func severity(s probe.Status) int {
	switch s {
	case probe.StatusDown:
		return 2
	case probe.StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Compute derives an aggregatedStatus from perRegion snapshots per the
// truth table in §3. A region's snapshot is "fresh" (authoritative) only
// if it arrived within 2·maxIntervalSeconds of now; stale or entirely
// missing regions are excluded rather than treated as down (§3: "missing
// regions are treated as unknown — does not flip status alone").
//
// determined is false when no region has fresh data at all, in which case
// the caller should leave the previous aggregatedStatus unchanged rather
// than derive a new one from nothing.
func Compute(perRegion map[string]RegionSnapshot, regions []string, strategy string, maxIntervalSeconds int, now time.Time) (status probe.Status, determined bool) {
	freshWindow := time.Duration(2*maxIntervalSeconds) * time.Second

	fresh := func(regionID string) (RegionSnapshot, bool) {
		snap, ok := perRegion[regionID]
		if !ok {
			return RegionSnapshot{}, false
		}
		if now.Sub(snap.LastAt) > freshWindow {
			return RegionSnapshot{}, false
		}
		return snap, true
	}

	switch {
	case strategy == string(service.StrategyAll) || strategy == "":
		return computeAll(regions, fresh)
	case strategy == string(service.StrategyClosest):
		return computeClosest(regions, fresh)
	case strategy == string(service.StrategyAny):
		return computeAny(regions, fresh)
	default:
		if n, ok := service.ParseQuorum(strategy); ok {
			return computeQuorum(regions, fresh, n)
		}
		// Unknown strategy string: treat like "all" rather than panic —
		// the admin API should have rejected this at Service-write time.
		return computeAll(regions, fresh)
	}
}

func computeAll(regions []string, fresh func(string) (RegionSnapshot, bool)) (probe.Status, bool) {
	sawDown, sawDegraded, sawAny := false, false, false
	for _, r := range regions {
		snap, ok := fresh(r)
		if !ok {
			continue
		}
		sawAny = true
		switch snap.LastStatus {
		case probe.StatusDown:
			sawDown = true
		case probe.StatusDegraded:
			sawDegraded = true
		}
	}
	if !sawAny {
		return "", false
	}
	switch {
	case sawDown:
		return probe.StatusDown, true
	case sawDegraded:
		return probe.StatusDegraded, true
	default:
		return probe.StatusUp, true
	}
}

func computeClosest(regions []string, fresh func(string) (RegionSnapshot, bool)) (probe.Status, bool) {
	if len(regions) == 0 {
		return "", false
	}
	snap, ok := fresh(regions[0])
	if !ok {
		return "", false
	}
	return snap.LastStatus, true
}

func computeAny(regions []string, fresh func(string) (RegionSnapshot, bool)) (probe.Status, bool) {
	sawAny := false
	for _, r := range regions {
		snap, ok := fresh(r)
		if !ok {
			continue
		}
		sawAny = true
		if snap.LastStatus == probe.StatusUp {
			return probe.StatusUp, true
		}
	}
	if !sawAny {
		return "", false
	}
	return probe.StatusDown, true
}

func computeQuorum(regions []string, fresh func(string) (RegionSnapshot, bool), n int) (probe.Status, bool) {
	votes := map[probe.Status]int{}
	for _, r := range regions {
		snap, ok := fresh(r)
		if !ok {
			continue
		}
		votes[snap.LastStatus]++
	}
	if len(votes) == 0 {
		return "", false
	}

	var winner probe.Status
	winnerVotes := -1
	for status, count := range votes {
		if count < n {
			continue
		}
		if count > winnerVotes || (count == winnerVotes && severity(status) > severity(winner)) {
			winner = status
			winnerVotes = count
		}
	}
	if winnerVotes >= 0 {
		return winner, true
	}

	// No status reached quorum n: fall back to the most severe status seen,
	// so a split vote degrades conservatively rather than reporting up.
	best := probe.StatusUp
	for status := range votes {
		if severity(status) > severity(best) {
			best = status
		}
	}
	return best, true
}
