package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdesk/opsdesk/internal/auth"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrNameRequired       = errors.New("name is required")
	ErrEmailRequired      = errors.New("email is required for accounts that can log in")
	ErrEmailTaken         = errors.New("email is already in use")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordRequired   = errors.New("password is required")
)

// ErrUserReferenced reports a delete blocked by activities that still point
// at the account.
type ErrUserReferenced struct {
	ResponsibleCount int64
	CreatedCount     int64
}

func (e *ErrUserReferenced) Error() string {
	return fmt.Sprintf("user is referenced by activities (responsible for %d, creator of %d)",
		e.ResponsibleCount, e.CreatedCount)
}

const userColumns = "id, name, email, role, active, can_login, password_changed, sector_id, created_at, updated_at"

// Store persists accounts and their login sessions.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active, &u.CanLogin,
		&u.PasswordChanged, &u.SectorID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns every account, login-capable first, then by name.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY can_login DESC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetByID returns a single account or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %d: %w", id, err)
	}
	return u, nil
}

// Create inserts an account. Accounts that can log in must carry a real
// email; responsible-only accounts get a synthetic one. The initial password
// defaults to the account name when none is given.
func (s *Store) Create(ctx context.Context, in CreateUserInput) (*User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	role := defaultRole
	if in.Role != nil && *in.Role != "" {
		if !auth.ValidRole(*in.Role) {
			return nil, ErrInvalidRole
		}
		role = *in.Role
	}

	canLogin := true
	if in.CanLogin != nil {
		canLogin = *in.CanLogin
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	var email string
	if in.Email != nil {
		email = normalizeEmail(*in.Email)
	}
	if canLogin && email == "" {
		return nil, ErrEmailRequired
	}
	if email == "" {
		email = placeholderEmail(name, time.Now())
	}

	taken, err := s.emailTaken(ctx, email, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	password := name
	if in.Password != nil && strings.TrimSpace(*in.Password) != "" {
		password = strings.TrimSpace(*in.Password)
	}
	if password == "" {
		password = "changeme"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role, active, can_login, sector_id, password_changed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		RETURNING `+userColumns,
		name, email, string(hash), role, active, canLogin, in.SectorID))
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// Update applies the non-nil fields of in to an existing account.
func (s *Store) Update(ctx context.Context, id int64, in UpdateUserInput) (*User, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = now()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	canLogin := current.CanLogin
	if in.CanLogin != nil {
		canLogin = *in.CanLogin
		sets = append(sets, "can_login = "+arg(canLogin))
	}

	email := current.Email
	if in.Email != nil {
		email = normalizeEmail(*in.Email)
		if email != current.Email {
			taken, err := s.emailTaken(ctx, email, id)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, ErrEmailTaken
			}
		}
		sets = append(sets, "email = "+arg(email))
	}
	if canLogin && email == "" {
		return nil, ErrEmailRequired
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		sets = append(sets, "name = "+arg(name))
	}
	if in.Role != nil {
		if !auth.ValidRole(*in.Role) {
			return nil, ErrInvalidRole
		}
		sets = append(sets, "role = "+arg(*in.Role))
	}
	if in.Active != nil {
		sets = append(sets, "active = "+arg(*in.Active))
	}
	if in.SectorID != nil {
		sets = append(sets, "sector_id = "+arg(*in.SectorID))
	}

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = %s RETURNING %s",
		strings.Join(sets, ", "), arg(id), userColumns)
	u, err := scanUser(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating user %d: %w", id, err)
	}
	return u, nil
}

// Delete removes an account unless activities still reference it.
func (s *Store) Delete(ctx context.Context, id int64) error {
	var responsible, created int64
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE responsible_id = $1),
			count(*) FILTER (WHERE created_by = $1)
		FROM activities`, id).Scan(&responsible, &created)
	if err != nil {
		return fmt.Errorf("counting activity references: %w", err)
	}
	if responsible > 0 || created > 0 {
		return &ErrUserReferenced{ResponsibleCount: responsible, CreatedCount: created}
	}

	tag, err := s.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting user %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetPassword sets the account's password back to its name and flags the
// account for a forced change on the next login.
func (s *Store) ResetPassword(ctx context.Context, id int64) error {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Name), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $1, password_changed = FALSE, updated_at = now() WHERE id = $2",
		string(hash), id)
	if err != nil {
		return fmt.Errorf("resetting password for user %d: %w", id, err)
	}
	return nil
}

// FindByLogin resolves a login identifier, matching on name first and email
// second, case-insensitively. When several rows match, login-capable and
// active accounts win, newest last.
func (s *Store) FindByLogin(ctx context.Context, login string) (*User, string, error) {
	needle := strings.ToLower(strings.TrimSpace(login))
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE LOWER(TRIM(name)) = $1 OR LOWER(TRIM(email)) = $1
		ORDER BY (LOWER(TRIM(name)) = $1) DESC, can_login DESC, active DESC, id DESC
		LIMIT 1`, needle)

	var u User
	var hash string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Active, &u.CanLogin,
		&u.PasswordChanged, &u.SectorID, &u.CreatedAt, &u.UpdatedAt, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("resolving login: %w", err)
	}
	return &u, hash, nil
}

// VerifyPassword checks a candidate password against the stored hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ChangePassword verifies the current password and replaces it.
func (s *Store) ChangePassword(ctx context.Context, id int64, current, next string) error {
	if strings.TrimSpace(next) == "" {
		return ErrPasswordRequired
	}
	var hash string
	err := s.pool.QueryRow(ctx, "SELECT password_hash FROM users WHERE id = $1", id).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying user %d: %w", id, err)
	}
	if !VerifyPassword(hash, current) {
		return ErrInvalidCredentials
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		"UPDATE users SET password_hash = $1, password_changed = TRUE, updated_at = now() WHERE id = $2",
		string(newHash), id)
	if err != nil {
		return fmt.Errorf("changing password for user %d: %w", id, err)
	}
	return nil
}

// CreateSession records an issued token so it can be revoked before its
// expiry. Only the token's hash is stored.
func (s *Store) CreateSession(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)",
		userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// DeleteSession revokes a token. Unknown tokens are not an error.
func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// SessionExists reports whether an unexpired session matches the hash.
func (s *Store) SessionExists(ctx context.Context, tokenHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM sessions WHERE token_hash = $1 AND expires_at > now())",
		tokenHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return exists, nil
}

// CleanExpiredSessions removes sessions past their expiry.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("cleaning sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) emailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(TRIM(email)) = $1 AND id <> $2)",
		email, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("checking email uniqueness: %w", err)
	}
	return taken, nil
}
