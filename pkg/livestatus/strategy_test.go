package livestatus

import (
	"testing"
	"time"

	"github.com/guardantio/guardant/pkg/probe"
)

func snap(status probe.Status, at time.Time) RegionSnapshot {
	return RegionSnapshot{LastStatus: status, LastAt: at}
}

func TestCompute_All(t *testing.T) {
	now := time.Now()
	regions := []string{"a", "b", "c"}

	cases := []struct {
		name string
		pr   map[string]RegionSnapshot
		want probe.Status
	}{
		{"all up", map[string]RegionSnapshot{
			"a": snap(probe.StatusUp, now), "b": snap(probe.StatusUp, now), "c": snap(probe.StatusUp, now),
		}, probe.StatusUp},
		{"one down", map[string]RegionSnapshot{
			"a": snap(probe.StatusUp, now), "b": snap(probe.StatusDown, now), "c": snap(probe.StatusUp, now),
		}, probe.StatusDown},
		{"degraded no down", map[string]RegionSnapshot{
			"a": snap(probe.StatusUp, now), "b": snap(probe.StatusDegraded, now), "c": snap(probe.StatusUp, now),
		}, probe.StatusDegraded},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := Compute(c.pr, regions, "all", 60, now)
			if !ok {
				t.Fatalf("expected determined=true")
			}
			if got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestCompute_All_MissingRegionDoesNotFlip(t *testing.T) {
	now := time.Now()
	regions := []string{"a", "b"}
	perRegion := map[string]RegionSnapshot{
		"a": snap(probe.StatusUp, now),
		// "b" never reported — entirely absent.
	}

	got, ok := Compute(perRegion, regions, "all", 60, now)
	if !ok {
		t.Fatalf("expected determined=true from the one fresh region")
	}
	if got != probe.StatusUp {
		t.Fatalf("got %q, want up", got)
	}
}

func TestCompute_All_StaleRegionExcluded(t *testing.T) {
	now := time.Now()
	regions := []string{"a", "b"}
	perRegion := map[string]RegionSnapshot{
		"a": snap(probe.StatusUp, now),
		"b": snap(probe.StatusDown, now.Add(-10*time.Minute)), // stale: older than 2*60s window
	}

	got, ok := Compute(perRegion, regions, "all", 60, now)
	if !ok {
		t.Fatalf("expected determined=true")
	}
	if got != probe.StatusUp {
		t.Fatalf("stale down region flipped status: got %q, want up", got)
	}
}

func TestCompute_Any(t *testing.T) {
	now := time.Now()
	regions := []string{"a", "b"}
	perRegion := map[string]RegionSnapshot{
		"a": snap(probe.StatusDown, now),
		"b": snap(probe.StatusUp, now),
	}

	got, ok := Compute(perRegion, regions, "any", 60, now)
	if !ok || got != probe.StatusUp {
		t.Fatalf("got %q, %v; want up, true", got, ok)
	}
}

func TestCompute_Quorum_E4(t *testing.T) {
	now := time.Now()
	regions := []string{"a", "b", "c"}

	// a=up, b=down, c=down => down
	pr := map[string]RegionSnapshot{
		"a": snap(probe.StatusUp, now), "b": snap(probe.StatusDown, now), "c": snap(probe.StatusDown, now),
	}
	got, ok := Compute(pr, regions, "quorum(2)", 60, now)
	if !ok || got != probe.StatusDown {
		t.Fatalf("round 1: got %q, %v; want down, true", got, ok)
	}

	// a=up, b=up, c=down => up
	pr = map[string]RegionSnapshot{
		"a": snap(probe.StatusUp, now), "b": snap(probe.StatusUp, now), "c": snap(probe.StatusDown, now),
	}
	got, ok = Compute(pr, regions, "quorum(2)", 60, now)
	if !ok || got != probe.StatusUp {
		t.Fatalf("round 2: got %q, %v; want up, true", got, ok)
	}

	// c stale beyond 2*interval => recomputed from {a:up, b:up} => up
	pr = map[string]RegionSnapshot{
		"a": snap(probe.StatusUp, now), "b": snap(probe.StatusUp, now),
		"c": snap(probe.StatusDown, now.Add(-5*time.Minute)),
	}
	got, ok = Compute(pr, regions, "quorum(2)", 60, now)
	if !ok || got != probe.StatusUp {
		t.Fatalf("round 3: got %q, %v; want up, true", got, ok)
	}
}

func TestCompute_Closest(t *testing.T) {
	now := time.Now()
	regions := []string{"eu-west-1", "us-east-1"}
	perRegion := map[string]RegionSnapshot{
		"eu-west-1": snap(probe.StatusUp, now),
		"us-east-1": snap(probe.StatusDown, now),
	}

	got, ok := Compute(perRegion, regions, "closest", 60, now)
	if !ok || got != probe.StatusUp {
		t.Fatalf("got %q, %v; want up (authoritative region is first), true", got, ok)
	}
}

func TestCompute_NoData(t *testing.T) {
	_, ok := Compute(map[string]RegionSnapshot{}, []string{"a"}, "all", 60, time.Now())
	if ok {
		t.Fatalf("expected determined=false with no data at all")
	}
}
