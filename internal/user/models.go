package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opsdesk/opsdesk/internal/auth"
)

// User is an operator account. Accounts with CanLogin false exist only to be
// assigned as responsible for activities and carry a placeholder email.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
	CanLogin bool   `json:"can_login"`
	// PasswordChanged is false while the account still carries its initial
	// (or reset) default password; the UI forces a change on first login.
	PasswordChanged bool      `json:"password_changed"`
	SectorID        *int64    `json:"sector_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateUserInput carries the fields accepted when creating an account.
type CreateUserInput struct {
	Name     string  `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
	Active   *bool   `json:"active"`
	CanLogin *bool   `json:"can_login"`
	SectorID *int64  `json:"sector_id"`
}

// UpdateUserInput carries a partial update; nil fields are left untouched.
type UpdateUserInput struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Active   *bool   `json:"active"`
	CanLogin *bool   `json:"can_login"`
	SectorID *int64  `json:"sector_id"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// placeholderEmail builds a unique synthetic address for accounts that cannot
// log in, so the email uniqueness constraint never blocks them.
func placeholderEmail(name string, now time.Time) string {
	slug := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), ".")
	slug = strings.Trim(slug, ".")
	if slug == "" {
		slug = "user"
	}
	return fmt.Sprintf("%s.%d@local", slug, now.UnixNano())
}

// normalizeEmail applies the canonical form used for uniqueness checks and
// login lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// defaultRole is assigned when a create request names none.
const defaultRole = auth.RoleView
