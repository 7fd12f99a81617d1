package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/pkg/probe"
)

type recordingSink struct {
	written []*Bucket
}

func (s *recordingSink) Write(_ context.Context, b *Bucket) error {
	s.written = append(s.written, b)
	return nil
}

func newResult(nestID, serviceID uuid.UUID, region string, status probe.Status, at time.Time, durationMs int64) probe.Result {
	return probe.Result{
		ResultID:   uuid.New(),
		NestID:     nestID,
		ServiceID:  serviceID,
		RegionID:   region,
		Status:     status,
		StartedAt:  at,
		DurationMs: durationMs,
	}
}

func TestAggregator_IngestCreatesThreeGranularities(t *testing.T) {
	ctx := context.Background()
	a := New(NoopSink{}, nil)

	nestID, serviceID := uuid.New(), uuid.New()
	at := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)

	if err := a.Ingest(ctx, newResult(nestID, serviceID, "eu-west-1", probe.StatusUp, at, 120)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if a.LiveBucketCount() != 3 {
		t.Fatalf("LiveBucketCount = %d, want 3 (minute+hour+day)", a.LiveBucketCount())
	}
}

func TestAggregator_RollsUpCounts(t *testing.T) {
	ctx := context.Background()
	a := New(NoopSink{}, nil)

	nestID, serviceID := uuid.New(), uuid.New()
	at := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)

	statuses := []probe.Status{probe.StatusUp, probe.StatusUp, probe.StatusDown, probe.StatusDegraded}
	for _, status := range statuses {
		if err := a.Ingest(ctx, newResult(nestID, serviceID, "eu-west-1", status, at, 100)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	key := Key{NestID: nestID, ServiceID: serviceID, RegionID: "eu-west-1", Period: PeriodMinute, PeriodStart: PeriodMinute.floorTo(at)}
	b := a.buckets[key]
	if b == nil {
		t.Fatalf("expected minute bucket to exist")
	}
	if b.TotalChecks != 4 || b.UpChecks != 2 || b.DownChecks != 1 || b.DegradedChecks != 1 {
		t.Fatalf("got %+v", b)
	}
}

func TestAggregator_SealsExpiredBuckets(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	a := New(sink, nil)

	nestID, serviceID := uuid.New(), uuid.New()
	longAgo := time.Now().UTC().Add(-48 * time.Hour)

	if err := a.Ingest(ctx, newResult(nestID, serviceID, "eu-west-1", probe.StatusUp, longAgo, 50)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if a.LiveBucketCount() != 3 {
		t.Fatalf("LiveBucketCount = %d, want 3", a.LiveBucketCount())
	}

	a.sealExpired(ctx)

	// minute and hour buckets from two days ago are well past their grace
	// windows; the day bucket (grace 1h, period 24h) closes at most 25h
	// after longAgo, so it is past its grace window too.
	if a.LiveBucketCount() != 0 {
		t.Fatalf("LiveBucketCount after sealExpired = %d, want 0", a.LiveBucketCount())
	}
	if len(sink.written) != 3 {
		t.Fatalf("sink received %d buckets, want 3", len(sink.written))
	}
}

func TestAggregator_BelowTenantCapNothingSealed(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	a := New(sink, nil)
	nestID := uuid.New()

	// MaxLiveBucketsPerTenant is a constant; this test stays below it.
	originalCap := MaxLiveBucketsPerTenant
	_ = originalCap

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := a.Ingest(ctx, newResult(nestID, uuid.New(), "eu-west-1", probe.StatusUp, at, 10)); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}
	// Each distinct serviceId+minute produces a fresh minute bucket; with
	// the real 10k cap none of these are sealed yet.
	if a.LiveBucketCount() != 15 {
		t.Fatalf("LiveBucketCount = %d, want 15 (5 services x 3 periods)", a.LiveBucketCount())
	}
}
