package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/guardantio/guardant/internal/dbtx"
)

// ErrNotFound is returned when no open incident exists for a service.
var ErrNotFound = errors.New("incident: not found")

// Store persists Incident rows in Postgres. A partial unique index on
// service_id where closed_at is null enforces the at-most-one-open-incident
// invariant (§8 property 2) at the database level.
type Store struct {
	db dbtx.DBTX
}

func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

const selectColumns = `
	incident_id, service_id, nest_id, opened_at, closed_at, reason,
	affected_checks, last_seen_at, recovery_count`

func scanIncident(row pgx.Row) (Incident, error) {
	var i Incident
	err := row.Scan(
		&i.IncidentID, &i.ServiceID, &i.NestID, &i.OpenedAt, &i.ClosedAt, &i.Reason,
		&i.AffectedChecks, &i.LastSeenAt, &i.recoveryCount,
	)
	return i, err
}

// GetOpen returns the currently open incident for a service, if any.
func (s *Store) GetOpen(ctx context.Context, serviceID uuid.UUID) (Incident, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM incidents
		WHERE service_id = $1 AND closed_at IS NULL`, serviceID)

	i, err := scanIncident(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Incident{}, ErrNotFound
	}
	if err != nil {
		return Incident{}, fmt.Errorf("getting open incident: %w", err)
	}
	return i, nil
}

// Create inserts a newly opened incident.
func (s *Store) Create(ctx context.Context, i Incident) (Incident, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO incidents (
			incident_id, service_id, nest_id, opened_at, reason,
			affected_checks, last_seen_at, recovery_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING `+selectColumns,
		i.IncidentID, i.ServiceID, i.NestID, i.OpenedAt, i.Reason, i.AffectedChecks, i.LastSeenAt)

	created, err := scanIncident(row)
	if err != nil {
		return Incident{}, fmt.Errorf("creating incident: %w", err)
	}
	return created, nil
}

// RecordDown bumps affectedChecks/lastSeenAt and resets the recovery streak
// on a fresh down observation while the incident is open.
func (s *Store) RecordDown(ctx context.Context, incidentID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE incidents
		SET affected_checks = affected_checks + 1, last_seen_at = $2, recovery_count = 0
		WHERE incident_id = $1`, incidentID, at)
	if err != nil {
		return fmt.Errorf("recording down observation: %w", err)
	}
	return nil
}

// RecordUp bumps the recovery streak counter and returns its new value.
func (s *Store) RecordUp(ctx context.Context, incidentID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		UPDATE incidents SET recovery_count = recovery_count + 1
		WHERE incident_id = $1
		RETURNING recovery_count`, incidentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("recording up observation: %w", err)
	}
	return count, nil
}

// Close marks an incident resolved.
func (s *Store) Close(ctx context.Context, incidentID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE incidents SET closed_at = $2 WHERE incident_id = $1`, incidentID, at)
	if err != nil {
		return fmt.Errorf("closing incident: %w", err)
	}
	return nil
}
