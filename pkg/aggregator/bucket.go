// Package aggregator implements the Metrics Aggregator (C7): rolling
// per-(nestId, serviceId, regionId, period, periodStart) buckets sealed and
// flushed to a pluggable Sink once their grace window elapses (§4.7).
package aggregator

import (
	"time"

	"github.com/google/uuid"
)

// Period is one of the three roll-up granularities.
type Period string

const (
	PeriodMinute Period = "minute"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
)

// duration and grace return, respectively, how long a period spans and how
// long after it ends a late result may still update its bucket (§4.7).
func (p Period) duration() time.Duration {
	switch p {
	case PeriodMinute:
		return time.Minute
	case PeriodHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

func (p Period) grace() time.Duration {
	switch p {
	case PeriodMinute:
		return 2 * time.Minute
	case PeriodHour:
		return 10 * time.Minute
	default:
		return time.Hour
	}
}

// floorTo aligns t to the natural boundary of the period.
func (p Period) floorTo(t time.Time) time.Time {
	return t.Truncate(p.duration()).UTC()
}

// Key identifies one bucket.
type Key struct {
	NestID      uuid.UUID
	ServiceID   uuid.UUID
	RegionID    string
	Period      Period
	PeriodStart time.Time
}

// Bucket is one AggregatedMetrics roll-up (§3), mutable until sealed.
type Bucket struct {
	Key Key

	TotalChecks    int
	UpChecks       int
	DownChecks     int
	DegradedChecks int

	sumDurationMs int64
	MinDurationMs int64
	MaxDurationMs int64

	StatusCodeHistogram map[int]int
	ErrorClassHistogram map[string]int
}

func newBucket(key Key) *Bucket {
	return &Bucket{
		Key:                 key,
		MinDurationMs:       -1,
		StatusCodeHistogram: make(map[int]int),
		ErrorClassHistogram: make(map[string]int),
	}
}

// AvgDurationMs computes the mean probe duration for this bucket so far.
func (b *Bucket) AvgDurationMs() float64 {
	if b.TotalChecks == 0 {
		return 0
	}
	return float64(b.sumDurationMs) / float64(b.TotalChecks)
}
