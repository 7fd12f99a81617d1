package aggregator

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/internal/telemetry"
	"github.com/guardantio/guardant/pkg/probe"
)

// MaxLiveBucketsPerTenant bounds memory: once a Nest has this many live
// (unsealed) buckets, the least-recently-touched one is force-sealed to
// make room (§4.7).
const MaxLiveBucketsPerTenant = 10_000

var periods = []Period{PeriodMinute, PeriodHour, PeriodDay}

// Aggregator maintains rolling buckets in memory and seals them to a Sink
// once their grace window elapses or their tenant's LRU cap is exceeded.
type Aggregator struct {
	mu   sync.Mutex
	sink Sink
	log  *slog.Logger

	buckets map[Key]*Bucket
	lru     map[uuid.UUID]*list.List
	elems   map[Key]*list.Element
}

func New(sink Sink, log *slog.Logger) *Aggregator {
	return &Aggregator{
		sink:    sink,
		log:     log,
		buckets: make(map[Key]*Bucket),
		lru:     make(map[uuid.UUID]*list.List),
		elems:   make(map[Key]*list.Element),
	}
}

// Ingest folds one ProbeResult into the minute/hour/day buckets it belongs
// to, creating them if necessary and touching each one's LRU position.
func (a *Aggregator) Ingest(ctx context.Context, result probe.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range periods {
		key := Key{
			NestID:      result.NestID,
			ServiceID:   result.ServiceID,
			RegionID:    result.RegionID,
			Period:      p,
			PeriodStart: p.floorTo(result.StartedAt),
		}

		b, ok := a.buckets[key]
		if !ok {
			if err := a.makeRoom(ctx, result.NestID); err != nil {
				return err
			}
			b = newBucket(key)
			a.buckets[key] = b
		}
		applyResult(b, result)
		a.touch(key)
	}
	return nil
}

func applyResult(b *Bucket, result probe.Result) {
	b.TotalChecks++
	switch result.Status {
	case probe.StatusUp:
		b.UpChecks++
	case probe.StatusDown:
		b.DownChecks++
	case probe.StatusDegraded:
		b.DegradedChecks++
	}
	b.sumDurationMs += result.DurationMs
	if b.MinDurationMs < 0 || result.DurationMs < b.MinDurationMs {
		b.MinDurationMs = result.DurationMs
	}
	if result.DurationMs > b.MaxDurationMs {
		b.MaxDurationMs = result.DurationMs
	}
	if result.StatusCode != nil {
		b.StatusCodeHistogram[*result.StatusCode]++
	}
	if result.ErrorClass != nil {
		b.ErrorClassHistogram[string(*result.ErrorClass)]++
	}
}

// touch must be called with a.mu held; moves key to the front of its
// tenant's LRU list, creating the list and/or element as needed.
func (a *Aggregator) touch(key Key) {
	l, ok := a.lru[key.NestID]
	if !ok {
		l = list.New()
		a.lru[key.NestID] = l
	}
	if e, ok := a.elems[key]; ok {
		l.MoveToFront(e)
		return
	}
	a.elems[key] = l.PushFront(key)
}

// makeRoom seals the tenant's least-recently-touched bucket if adding one
// more would exceed MaxLiveBucketsPerTenant. Must be called with a.mu held.
func (a *Aggregator) makeRoom(ctx context.Context, nestID uuid.UUID) error {
	l, ok := a.lru[nestID]
	if !ok || l.Len() < MaxLiveBucketsPerTenant {
		return nil
	}
	back := l.Back()
	if back == nil {
		return nil
	}
	key := back.Value.(Key)
	return a.sealLocked(ctx, key)
}

// sealLocked writes a bucket to the sink and removes it from memory. Must
// be called with a.mu held.
func (a *Aggregator) sealLocked(ctx context.Context, key Key) error {
	b, ok := a.buckets[key]
	if !ok {
		return nil
	}
	if err := a.sink.Write(ctx, b); err != nil {
		return err
	}
	delete(a.buckets, key)
	if e, ok := a.elems[key]; ok {
		if l, ok := a.lru[key.NestID]; ok {
			l.Remove(e)
		}
		delete(a.elems, key)
	}
	telemetry.BucketsSealedTotal.WithLabelValues(string(key.Period)).Inc()
	return nil
}

// RunSealer periodically seals every bucket whose grace window has
// elapsed, until ctx is cancelled.
func (a *Aggregator) RunSealer(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sealExpired(ctx)
		}
	}
}

func (a *Aggregator) sealExpired(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	var expired []Key
	for key, b := range a.buckets {
		deadline := b.Key.PeriodStart.Add(b.Key.Period.duration()).Add(b.Key.Period.grace())
		if now.After(deadline) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		if err := a.sealLocked(ctx, key); err != nil && a.log != nil {
			a.log.Error("sealing bucket failed", "key", key, "error", err)
		}
	}
}

// LiveBucketCount reports the number of unsealed buckets currently held in
// memory, for tests and diagnostics.
func (a *Aggregator) LiveBucketCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}
