package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for activities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new activity store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// activityColumns is the full column list used by SELECT statements. Dates
// are cast to text so the model carries plain "YYYY-MM-DD" strings.
const activityColumns = `a.id, a.origin, a.activity, a.date::text, a.duration,
	a.status, a.priority, a.responsible_id, a.created_by, a.due_date::text,
	a.observation, a.created_at, a.updated_at, u.name`

const activityFrom = `FROM activities a LEFT JOIN users u ON a.responsible_id = u.id`

// scanActivity scans a single activity row, including the joined
// responsible name.
func scanActivity(row pgx.Row) (*Activity, error) {
	var a Activity
	err := row.Scan(
		&a.ID,
		&a.Origin,
		&a.Name,
		&a.Date,
		&a.Duration,
		&a.Status,
		&a.Priority,
		&a.ResponsibleID,
		&a.CreatedBy,
		&a.DueDate,
		&a.Observation,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ResponsibleName,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Insert persists a new activity and returns its id.
func (s *Store) Insert(ctx context.Context, a *Activity) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO activities
		 (origin, activity, date, duration, status, priority, responsible_id, created_by, due_date, observation)
		 VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9::date, $10)
		 RETURNING id`,
		a.Origin, a.Name, a.Date, a.Duration, a.Status, a.Priority,
		a.ResponsibleID, a.CreatedBy, a.DueDate, a.Observation,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting activity: %w", err)
	}
	return id, nil
}

// GetByID retrieves an activity with its responsible name.
func (s *Store) GetByID(ctx context.Context, id int64) (*Activity, error) {
	a, err := scanActivity(s.pool.QueryRow(ctx,
		`SELECT `+activityColumns+` `+activityFrom+` WHERE a.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting activity: %w", err)
	}
	return a, nil
}

// List returns activities matching the filters, newest date first. Rows with
// the same date come back in storage order; the relative order of same-day
// entries is unspecified.
func (s *Store) List(ctx context.Context, f Filters) ([]*Activity, error) {
	var where []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Origin != "" {
		where = append(where, fmt.Sprintf("a.origin ILIKE '%%' || %s || '%%'", arg(f.Origin)))
	}
	if f.Name != "" {
		where = append(where, fmt.Sprintf("a.activity ILIKE '%%' || %s || '%%'", arg(f.Name)))
	}
	if f.StartDate != "" {
		where = append(where, fmt.Sprintf("a.date >= %s::date", arg(f.StartDate)))
	}
	if f.EndDate != "" {
		where = append(where, fmt.Sprintf("a.date <= %s::date", arg(f.EndDate)))
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("a.status = %s", arg(f.Status)))
	}
	if f.Priority != "" {
		where = append(where, fmt.Sprintf("a.priority = %s", arg(f.Priority)))
	}
	if f.ResponsibleID != nil {
		where = append(where, fmt.Sprintf("a.responsible_id = %s", arg(*f.ResponsibleID)))
	}
	if f.VisibleTo != nil {
		p := arg(*f.VisibleTo)
		where = append(where, fmt.Sprintf("(a.created_by = %s OR a.responsible_id = %s)", p, p))
	}

	query := `SELECT ` + activityColumns + ` ` + activityFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.date DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// Update writes the full merged row back. The engine merges patches before
// calling this, so every column is set.
func (s *Store) Update(ctx context.Context, a *Activity) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE activities
		 SET origin = $1, activity = $2, date = $3::date, duration = $4,
		     status = $5, priority = $6, responsible_id = $7, observation = $8,
		     due_date = $9::date, updated_at = now()
		 WHERE id = $10`,
		a.Origin, a.Name, a.Date, a.Duration, a.Status, a.Priority,
		a.ResponsibleID, a.Observation, a.DueDate, a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating activity: %w", err)
	}
	return nil
}

// Delete removes an activity row. Irreversible; there is no soft delete.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM activities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}
	return nil
}
