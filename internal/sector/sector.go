// Package sector manages the organizational units activities can be grouped
// under.
package sector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNameRequired = errors.New("sector name is required")

type Sector struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// List returns active sectors ordered by name.
func (s *Store) List(ctx context.Context) ([]*Sector, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, active, created_at FROM sectors WHERE active ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("querying sectors: %w", err)
	}
	defer rows.Close()

	var sectors []*Sector
	for rows.Next() {
		var sec Sector
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.Active, &sec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning sector: %w", err)
		}
		sectors = append(sectors, &sec)
	}
	return sectors, rows.Err()
}

// Create inserts a sector.
func (s *Store) Create(ctx context.Context, name string) (*Sector, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	var sec Sector
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sectors (name) VALUES ($1)
		RETURNING id, name, active, created_at`, name).
		Scan(&sec.ID, &sec.Name, &sec.Active, &sec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting sector: %w", err)
	}
	return &sec, nil
}
