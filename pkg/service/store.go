package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/internal/dbtx"
)

// Store provides read access to Service rows. The core never creates or
// deletes Services — the admin API owns their lifecycle — but the
// Scheduler needs a change-feed and every component needs point lookups.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a Store backed by the given query executor.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const selectColumns = `
	id, nest_id, name, type, target, interval_seconds, timeout_ms,
	type_config, monitoring_regions, monitoring_strategy,
	notification_webhooks, notification_emails, notification_slack_channels,
	is_active, revision, created_at, updated_at`

func scanService(row interface {
	Scan(dest ...any) error
}) (Service, error) {
	var s Service
	err := row.Scan(
		&s.ID, &s.NestID, &s.Name, &s.Type, &s.Target, &s.IntervalSeconds, &s.TimeoutMs,
		&s.TypeConfig, &s.Monitoring.Regions, &s.Monitoring.Strategy,
		&s.Notifications.Webhooks, &s.Notifications.Emails, &s.Notifications.SlackChannels,
		&s.IsActive, &s.Revision, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// Get returns a Service by id, regardless of active status.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Service, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM services WHERE id = $1`, id)
	svc, err := scanService(row)
	if err != nil {
		return Service{}, fmt.Errorf("getting service %s: %w", id, err)
	}
	return svc, nil
}

// ListActive returns every active Service, used by the Scheduler to build
// its in-memory schedule on startup.
func (s *Store) ListActive(ctx context.Context) ([]Service, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM services WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("listing active services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// ListChangedSince returns every Service whose revision is strictly greater
// than sinceRevision, in revision order, for the Scheduler's 5s change-feed poll (§4.5 step 1). Includes
// inactive and deleted-flagged rows so the Scheduler can remove them too.
func (s *Store) ListChangedSince(ctx context.Context, sinceRevision int64) ([]Service, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+selectColumns+` FROM services WHERE revision > $1 ORDER BY revision ASC`,
		sinceRevision,
	)
	if err != nil {
		return nil, fmt.Errorf("listing changed services: %w", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

// Exists reports whether a Service row is present (regardless of active
// status). Used by the Ingestor to drop results for deleted Services.
func (s *Store) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM services WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking service %s: %w", id, err)
	}
	return exists, nil
}
