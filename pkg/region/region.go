// Package region holds GuardAnt's static set of worker-pool regions.
package region

import (
	"context"
	"fmt"

	"github.com/guardantio/guardant/internal/dbtx"
)

// Region identifies a geographic pool of workers.
type Region struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Continent   string `json:"continent"`
}

// Store reads and extends the static region set. Regions are seeded once by
// migration and extended only by operator action (not by the core).
type Store struct {
	db dbtx.DBTX
}

// NewStore creates a Store backed by the given query executor.
func NewStore(db dbtx.DBTX) *Store {
	return &Store{db: db}
}

// Get returns a single region by id.
func (s *Store) Get(ctx context.Context, id string) (Region, error) {
	var r Region
	err := s.db.QueryRow(ctx,
		`SELECT id, display_name, continent FROM regions WHERE id = $1`, id,
	).Scan(&r.ID, &r.DisplayName, &r.Continent)
	if err != nil {
		return Region{}, fmt.Errorf("getting region %q: %w", id, err)
	}
	return r, nil
}

// List returns every known region.
func (s *Store) List(ctx context.Context) ([]Region, error) {
	rows, err := s.db.Query(ctx, `SELECT id, display_name, continent FROM regions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing regions: %w", err)
	}
	defer rows.Close()

	var out []Region
	for rows.Next() {
		var r Region
		if err := rows.Scan(&r.ID, &r.DisplayName, &r.Continent); err != nil {
			return nil, fmt.Errorf("scanning region: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Exists returns true if the region id is known.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM regions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking region %q: %w", id, err)
	}
	return exists, nil
}
