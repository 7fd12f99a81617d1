// Package scheduler implements the authoritative probe scheduler (C5):
// single-writer per Service, active-passive HA via a Redis lease, an
// in-memory min-heap of due entries, and per-region command publish with
// jitter to avoid fleet-wide synchronized probing (§4.5).
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/guardantio/guardant/internal/audit"
	"github.com/guardantio/guardant/internal/telemetry"
	"github.com/guardantio/guardant/pkg/broker"
	"github.com/guardantio/guardant/pkg/probe"
	"github.com/guardantio/guardant/pkg/service"
)

const (
	tickInterval   = 200 * time.Millisecond
	changeFeedPoll = 5 * time.Second
	leaseTTL       = 15 * time.Second
	leaseRenew     = 5 * time.Second
	jitterFraction = 0.05
)

// Scheduler drives the tick loop described by §4.5.
type Scheduler struct {
	lease    *Lease
	schedule *Schedule
	dedup    *dedupWindow
	services *service.Store
	b        *broker.Broker
	audit    *audit.Writer
	log      *slog.Logger

	maxRevisionSeen int64
	isLeader        bool

	// regionCapacity bounds each region's queue depth for backpressure
	// (§4.5 Backpressure); a region absent from the map is uncapped.
	regionCapacity map[string]int
}

// New builds a Scheduler. auditWriter may be nil in tests that don't care
// about the leader-lease audit trail.
func New(rdb *redis.Client, instanceID string, services *service.Store, b *broker.Broker, regionCapacity map[string]int, auditWriter *audit.Writer, log *slog.Logger) *Scheduler {
	return &Scheduler{
		lease:          NewLease(rdb, instanceID, leaseTTL),
		schedule:       NewSchedule(),
		dedup:          newDedupWindow(rdb),
		services:       services,
		b:              b,
		audit:          auditWriter,
		log:            log,
		regionCapacity: regionCapacity,
	}
}

// Run loads the active Service set and drives the tick/change-feed loop
// until ctx is cancelled. It must be safe to run two instances of Run
// concurrently (active-passive): only the lease holder emits commands.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.loadInitial(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	changeFeed := time.NewTicker(changeFeedPoll)
	defer changeFeed.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.lease.Release(context.Background())
			return ctx.Err()

		case <-changeFeed.C:
			if err := s.pollChanges(ctx); err != nil {
				s.log.Error("scheduler change-feed poll failed", "error", err)
			}

		case <-ticker.C:
			held, err := s.lease.TryAcquire(ctx)
			if err != nil {
				s.log.Error("scheduler lease renewal failed", "error", err)
				telemetry.LeaderStatus.Set(0)
				s.setLeader(false)
				continue
			}
			if !held {
				telemetry.LeaderStatus.Set(0)
				s.setLeader(false)
				continue
			}
			telemetry.LeaderStatus.Set(1)
			s.setLeader(true)
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) loadInitial(ctx context.Context) error {
	active, err := s.services.ListActive(ctx)
	if err != nil {
		return err
	}
	now := nowMs()
	for _, svc := range active {
		s.schedule.Upsert(svc.ID, int64(svc.IntervalSeconds)*1000, svc.Monitoring.Regions, svc.Revision, now)
		if svc.Revision > s.maxRevisionSeen {
			s.maxRevisionSeen = svc.Revision
		}
	}
	return nil
}

func (s *Scheduler) pollChanges(ctx context.Context) error {
	changed, err := s.services.ListChangedSince(ctx, s.maxRevisionSeen)
	if err != nil {
		return err
	}
	now := nowMs()
	for _, svc := range changed {
		if svc.Revision > s.maxRevisionSeen {
			s.maxRevisionSeen = svc.Revision
		}
		if !svc.IsActive {
			s.schedule.Remove(svc.ID)
			continue
		}
		s.schedule.Upsert(svc.ID, int64(svc.IntervalSeconds)*1000, svc.Monitoring.Regions, svc.Revision, now)
	}
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	now := nowMs()
	due := s.schedule.PopDue(now)

	for _, e := range due {
		svc, err := s.services.Get(ctx, e.ServiceID)
		if err != nil {
			// Deleted mid-flight: drop the entry (§4.5 edge cases).
			continue
		}
		if svc.IsActive {
			s.publish(ctx, svc, e, now)
		}

		interval := e.IntervalMs
		jitter := time.Duration(float64(interval) * jitterFraction * (rand.Float64()*2 - 1))
		e.NextDueAt = now + interval + jitter.Milliseconds()
		s.schedule.Reinsert(e)
	}
}

func (s *Scheduler) publish(ctx context.Context, svc service.Service, e *Entry, now int64) {
	ws := windowStart(now, e.IntervalMs)
	snapshot := svc.ToSnapshot()

	for _, region := range e.Regions {
		claimed, err := s.dedup.claim(ctx, svc.ID, region, ws, 2*time.Duration(e.IntervalMs)*time.Millisecond)
		if err != nil {
			s.log.Error("dedup claim failed", "service", svc.ID, "region", region, "error", err)
			continue
		}
		if !claimed {
			continue // already emitted this window, likely by a flapping former leader
		}

		stream := broker.ProbeStream(region)
		if capacity, ok := s.regionCapacity[region]; ok {
			if depth, err := s.b.StreamLen(ctx, stream); err == nil && depth > int64(capacity)*2 {
				telemetry.DroppedProbesTotal.Inc()
				continue
			}
		}

		cmd := probe.Command{
			CommandID:       uuid.New(),
			ServiceSnapshot: snapshot,
			ScheduledAt:     now,
			Deadline:        now + e.IntervalMs,
			Attempt:         1,
		}
		fields := map[string]any{
			"commandId":   cmd.CommandID.String(),
			"serviceId":   snapshot.ID.String(),
			"nestId":      snapshot.NestID.String(),
			"type":        string(snapshot.Type),
			"target":      snapshot.Target,
			"typeConfig":  string(snapshot.TypeConfig),
			"timeoutMs":   snapshot.TimeoutMs,
			"scheduledAt": cmd.ScheduledAt,
			"deadline":    cmd.Deadline,
			"attempt":     cmd.Attempt,
		}
		if _, err := s.b.Publish(ctx, stream, fields); err != nil {
			s.log.Error("publishing probe command failed", "service", svc.ID, "region", region, "error", err)
			continue
		}
		telemetry.CommandsPublishedTotal.Inc()
	}
}

// setLeader records leader-lease transitions to the audit trail; it is a
// no-op on repeated calls with the same state so a 200ms tick loop doesn't
// flood the log with one entry per tick.
func (s *Scheduler) setLeader(held bool) {
	if held == s.isLeader {
		return
	}
	s.isLeader = held
	if s.audit == nil {
		return
	}
	action := "leader.lost"
	if held {
		action = "leader.acquired"
	}
	s.audit.Log(audit.Entry{
		Action:     action,
		Resource:   "scheduler",
		ResourceID: s.lease.holderID,
	})
}

func nowMs() int64 { return time.Now().UnixMilli() }
