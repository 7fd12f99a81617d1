// Package ingestor implements the Result Ingestor (C6): the sole writer of
// LiveStatus and Incident, idempotent on resultId, fanning processed
// results out to the Metrics Aggregator and incident transitions out to
// the Notification Dispatcher (§4.6).
package ingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/guardantio/guardant/internal/audit"
	"github.com/guardantio/guardant/internal/telemetry"
	"github.com/guardantio/guardant/pkg/broker"
	"github.com/guardantio/guardant/pkg/incident"
	"github.com/guardantio/guardant/pkg/livestatus"
	"github.com/guardantio/guardant/pkg/probe"
	"github.com/guardantio/guardant/pkg/service"
)

// dedupTTL bounds how long a resultId is remembered; it only needs to
// outlive broker redelivery windows, not the service's lifetime.
const dedupTTL = 24 * time.Hour

// Ingestor consumes ProbeResults and advances the derived state they own.
type Ingestor struct {
	rdb      *redis.Client
	services *service.Store
	status   *livestatus.Store
	machine  *incident.Machine
	b        *broker.Broker
	audit    *audit.Writer
	log      *slog.Logger
}

// New builds an Ingestor. auditWriter may be nil in tests that don't care
// about the incident audit trail.
func New(rdb *redis.Client, services *service.Store, status *livestatus.Store, machine *incident.Machine, b *broker.Broker, auditWriter *audit.Writer, log *slog.Logger) *Ingestor {
	return &Ingestor{rdb: rdb, services: services, status: status, machine: machine, b: b, audit: auditWriter, log: log}
}

// Handle processes one delivered result message. The caller (a
// broker.Consumer loop) acks the message only if Handle returns nil;
// a returned error means "retry/redeliver", not "malformed" — malformed
// payloads are dead-lettered internally and Handle returns nil for them.
func (i *Ingestor) Handle(ctx context.Context, msg broker.Message) error {
	result, err := decodeResult(msg.Fields)
	if err != nil {
		i.log.Warn("dead-lettering malformed result", "error", err, "messageId", msg.ID)
		if _, err := i.b.Publish(ctx, broker.DeadLetterStream(broker.ResultsStream), msg.Fields); err != nil {
			return fmt.Errorf("dead-lettering malformed result: %w", err)
		}
		return nil
	}

	seen, err := i.alreadyProcessed(ctx, result.ResultID.String())
	if err != nil {
		return fmt.Errorf("checking idempotency key: %w", err)
	}
	if seen {
		return nil // already processed this resultId; at-least-once delivery duplicate
	}

	svc, err := i.services.Get(ctx, result.ServiceID)
	if err != nil {
		return nil // missing/deleted service: drop per §4.6 step 2
	}
	if !svc.IsActive {
		return nil
	}

	current, err := i.status.Get(ctx, result.NestID, result.ServiceID)
	if err != nil && !errors.Is(err, livestatus.ErrNotFound) {
		return fmt.Errorf("loading live status: %w", err)
	}
	updated := livestatus.ApplyResult(current, result)

	perRegion := make(map[string]livestatus.RegionSnapshot, len(updated.PerRegion))
	for k, v := range updated.PerRegion {
		perRegion[k] = v
	}
	newStatus, determined := livestatus.Compute(perRegion, svc.Monitoring.Regions, svc.Monitoring.Strategy, svc.IntervalSeconds, time.Now())
	if determined {
		updated.AggregatedStatus = newStatus
	}
	if err := i.status.Put(ctx, updated); err != nil {
		return fmt.Errorf("storing live status: %w", err)
	}

	if determined {
		reason := ""
		if result.ErrorClass != nil {
			reason = string(*result.ErrorClass)
		}
		transition, err := i.machine.Advance(ctx, result.NestID, result.ServiceID, newStatus, reason, incident.Thresholds{}, time.Now())
		if err != nil {
			return fmt.Errorf("advancing incident state machine: %w", err)
		}
		if err := i.fanOutTransition(ctx, svc, transition); err != nil {
			return err
		}
	}

	if err := i.publishToAggregator(ctx, result); err != nil {
		return err
	}

	// Mark the resultId seen only now that every downstream effect has
	// landed: claiming it up front would let a mid-processing error (a
	// retryable return) cause the redelivered copy to be skipped as
	// "already seen" and silently lose the LiveStatus/incident update
	// (§8.3, §8.4 at-least-once intent).
	if err := i.markProcessed(ctx, result.ResultID.String()); err != nil {
		return fmt.Errorf("marking idempotency key: %w", err)
	}

	telemetry.ResultsIngestedTotal.WithLabelValues("processed").Inc()
	return nil
}

func (i *Ingestor) alreadyProcessed(ctx context.Context, resultID string) (bool, error) {
	n, err := i.rdb.Exists(ctx, "ingest:seen:"+resultID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (i *Ingestor) markProcessed(ctx context.Context, resultID string) error {
	return i.rdb.Set(ctx, "ingest:seen:"+resultID, 1, dedupTTL).Err()
}

func (i *Ingestor) publishToAggregator(ctx context.Context, result probe.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result for aggregation: %w", err)
	}
	if _, err := i.b.Publish(ctx, broker.AggregationStream, map[string]any{"result": string(raw)}); err != nil {
		return fmt.Errorf("publishing to aggregator: %w", err)
	}
	return nil
}

func (i *Ingestor) fanOutTransition(ctx context.Context, svc service.Service, t incident.Transition) error {
	switch {
	case t.Opened != nil:
		telemetry.IncidentsOpenedTotal.Inc()
		i.logAudit(svc.NestID, "incident.opened", t.Opened.IncidentID.String())
		return i.publishNotification(ctx, "incident-started", svc, *t.Opened)
	case t.Resolved != nil:
		telemetry.IncidentsResolvedTotal.Inc()
		i.logAudit(svc.NestID, "incident.resolved", t.Resolved.IncidentID.String())
		return i.publishNotification(ctx, "incident-resolved", svc, *t.Resolved)
	default:
		return nil
	}
}

func (i *Ingestor) logAudit(nestID uuid.UUID, action, resourceID string) {
	if i.audit == nil {
		return
	}
	i.audit.Log(audit.Entry{
		NestID:     nestID,
		Action:     action,
		Resource:   "incident",
		ResourceID: resourceID,
	})
}

func (i *Ingestor) publishNotification(ctx context.Context, eventType string, svc service.Service, inc incident.Incident) error {
	payload := map[string]any{
		"type":        eventType,
		"nestId":      svc.NestID.String(),
		"serviceId":   svc.ID.String(),
		"serviceName": svc.Name,
		"incident":    inc,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding notification payload: %w", err)
	}
	if _, err := i.b.Publish(ctx, broker.NotificationsStream, map[string]any{"payload": string(raw)}); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}

func decodeResult(fields map[string]any) (probe.Result, error) {
	raw, ok := fields["result"]
	if !ok {
		return probe.Result{}, errors.New("missing result field")
	}
	s, ok := raw.(string)
	if !ok {
		return probe.Result{}, errors.New("result field is not a string")
	}
	var r probe.Result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return probe.Result{}, fmt.Errorf("decoding result: %w", err)
	}
	return r, nil
}
