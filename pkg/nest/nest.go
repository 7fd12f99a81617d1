// Package nest models GuardAnt's tenant unit. The core only reads Nests —
// they are created and mutated by the admin API (out of scope, §1) — but
// every other component needs to resolve a nestId to check it still exists
// before acting on its Services.
package nest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/internal/dbtx"
)

// Nest is a tenant account owning Services.
type Nest struct {
	ID          uuid.UUID `json:"id"`
	Subdomain   string    `json:"subdomain"`
	Name        string    `json:"name"`
	OwnerUserID uuid.UUID `json:"ownerUserId"`
	// WebhookSecret signs outbound notification payloads for this tenant's
	// webhooks (§4.9): HMAC-SHA256 over timestamp + "." + body.
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store provides read access to Nest rows. The core never writes Nests.
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a Store backed by the given query executor.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

// Get returns a Nest by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Nest, error) {
	var n Nest
	err := s.db.QueryRow(ctx, `
		SELECT id, subdomain, name, owner_user_id, webhook_secret, created_at
		FROM nests WHERE id = $1`, id,
	).Scan(&n.ID, &n.Subdomain, &n.Name, &n.OwnerUserID, &n.WebhookSecret, &n.CreatedAt)
	if err != nil {
		return Nest{}, fmt.Errorf("getting nest %s: %w", id, err)
	}
	return n, nil
}

// Exists reports whether a Nest with the given id is present. Used by
// downstream components (scheduler, ingestor) to drop work for nests the
// admin API has deleted since the snapshot was taken.
func (s *Store) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nests WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking nest %s: %w", id, err)
	}
	return exists, nil
}

// GetBySubdomain resolves a nestId from its public subdomain.
func (s *Store) GetBySubdomain(ctx context.Context, subdomain string) (Nest, error) {
	var n Nest
	err := s.db.QueryRow(ctx, `
		SELECT id, subdomain, name, owner_user_id, webhook_secret, created_at
		FROM nests WHERE subdomain = $1`, subdomain,
	).Scan(&n.ID, &n.Subdomain, &n.Name, &n.OwnerUserID, &n.WebhookSecret, &n.CreatedAt)
	if err != nil {
		return Nest{}, fmt.Errorf("getting nest by subdomain %q: %w", subdomain, err)
	}
	return n, nil
}
