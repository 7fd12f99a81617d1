package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guardantio/guardant/internal/dbtx"
)

// Sink persists a sealed Bucket. The decentralized cold-storage sink
// described for the wider platform is out of scope here; NoopSink and
// PostgresSink are the two implementations this core ships.
type Sink interface {
	Write(ctx context.Context, b *Bucket) error
}

// NoopSink discards sealed buckets, useful for workers/tests that only
// care about the live in-memory rollup, not durable retention.
type NoopSink struct{}

func (NoopSink) Write(context.Context, *Bucket) error { return nil }

// PostgresSink appends sealed buckets to the aggregated_metrics table.
// Buckets are append-only and immutable once sealed (§3), so this is a
// plain INSERT, never an UPDATE.
type PostgresSink struct {
	db dbtx.DBTX
}

func NewPostgresSink(db dbtx.DBTX) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, b *Bucket) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO aggregated_metrics (
			nest_id, service_id, region_id, period, period_start,
			total_checks, up_checks, down_checks, degraded_checks,
			avg_duration_ms, min_duration_ms, max_duration_ms,
			status_code_histogram, error_class_histogram
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (nest_id, service_id, region_id, period, period_start) DO NOTHING`,
		b.Key.NestID, b.Key.ServiceID, b.Key.RegionID, string(b.Key.Period), b.Key.PeriodStart,
		b.TotalChecks, b.UpChecks, b.DownChecks, b.DegradedChecks,
		b.AvgDurationMs(), minDurationOrZero(b.MinDurationMs), b.MaxDurationMs,
		histogramJSON(b.StatusCodeHistogram), histogramJSON(b.ErrorClassHistogram),
	)
	if err != nil {
		return fmt.Errorf("writing sealed bucket: %w", err)
	}
	return nil
}

func minDurationOrZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func histogramJSON[K comparable](h map[K]int) []byte {
	raw, err := json.Marshal(h)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
