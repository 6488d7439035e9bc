package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the singleton webhook configuration.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new webhook config store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const configColumns = `id, url, active, auto_send, fields, created_at, updated_at`

func scanConfig(row pgx.Row) (*Config, error) {
	var c Config
	var fieldsJSON []byte
	err := row.Scan(&c.ID, &c.URL, &c.Active, &c.AutoSend, &fieldsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &c.Fields); err != nil {
			return nil, fmt.Errorf("unmarshaling fields: %w", err)
		}
	}
	return &c, nil
}

// Get returns the configuration, or nil when none has been saved yet.
func (s *Store) Get(ctx context.Context) (*Config, error) {
	c, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM webhook_config LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting webhook config: %w", err)
	}
	return c, nil
}

// GetActive returns the configuration only when it is marked active.
func (s *Store) GetActive(ctx context.Context) (*Config, error) {
	c, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM webhook_config WHERE active = true LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting active webhook config: %w", err)
	}
	return c, nil
}

// GetAutoSend returns the configuration only when active and auto-send are
// both enabled.
func (s *Store) GetAutoSend(ctx context.Context) (*Config, error) {
	c, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM webhook_config WHERE active = true AND auto_send = true LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting auto-send webhook config: %w", err)
	}
	return c, nil
}

// Save writes the configuration. The table holds a single row pinned to
// id = 1, so the upsert stays race-free under concurrent saves.
func (s *Store) Save(ctx context.Context, in SaveConfigInput) (*Config, error) {
	fieldsJSON, err := json.Marshal(in.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling fields: %w", err)
	}

	c, err := scanConfig(s.pool.QueryRow(ctx,
		`INSERT INTO webhook_config (id, url, active, auto_send, fields)
		 VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET url = EXCLUDED.url, active = EXCLUDED.active,
		     auto_send = EXCLUDED.auto_send, fields = EXCLUDED.fields,
		     updated_at = now()
		 RETURNING `+configColumns,
		in.URL, in.Active, in.AutoSend, fieldsJSON))
	if err != nil {
		return nil, fmt.Errorf("saving webhook config: %w", err)
	}
	return c, nil
}
