package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/user"
)

// accountStore is the persistence surface the account handlers need.
type accountStore interface {
	List(ctx context.Context) ([]*user.User, error)
	GetByID(ctx context.Context, id int64) (*user.User, error)
	Create(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	Update(ctx context.Context, id int64, in user.UpdateUserInput) (*user.User, error)
	Delete(ctx context.Context, id int64) error
	ResetPassword(ctx context.Context, id int64) error
}

// usersHandler groups account management HTTP handlers.
type usersHandler struct {
	store accountStore
}

func newUsersHandler(store accountStore) *usersHandler {
	return &usersHandler{store: store}
}

// requireAdmin writes a 403 and returns false unless the caller is an admin.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil || !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "you do not have permission to perform this action")
		return false
	}
	return true
}

// List handles GET /api/users. Any authenticated caller may list accounts
// (the responsible picker needs them).
func (h *usersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list users")
		return
	}
	if users == nil {
		users = []*user.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// Create handles POST /api/users (admin only).
func (h *usersHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var in user.CreateUserInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.store.Create(r.Context(), in)
	if err != nil {
		writeUserError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Update handles PUT /api/users/{id} (admin only).
func (h *usersHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id must be a positive integer")
		return
	}

	var in user.UpdateUserInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.store.Update(r.Context(), id, in)
	if err != nil {
		writeUserError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Delete handles DELETE /api/users/{id} (admin only). With ?from=responsible
// only responsible-only accounts may be removed; deleting an account that
// activities still reference answers 409 with the reference counts.
func (h *usersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id must be a positive integer")
		return
	}

	if r.URL.Query().Get("from") == "responsible" {
		u, err := h.store.GetByID(r.Context(), id)
		if errors.Is(err, user.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load user")
			return
		}
		if u.CanLogin {
			writeError(w, http.StatusForbidden, "forbidden", "login accounts cannot be removed from the responsible list")
			return
		}
	}

	err := h.store.Delete(r.Context(), id)
	var referenced *user.ErrUserReferenced
	switch {
	case errors.As(err, &referenced):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": map[string]interface{}{
				"code":             "user_referenced",
				"message":          referenced.Error(),
				"responsibleCount": referenced.ResponsibleCount,
				"createdCount":     referenced.CreatedCount,
			},
		})
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete user")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
	}
}

// ResetPassword handles POST /api/users/{id}/reset-password (admin only).
// The password goes back to the account's name.
func (h *usersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "user id must be a positive integer")
		return
	}
	err := h.store.ResetPassword(r.Context(), id)
	switch {
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to reset password")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "password reset"})
	}
}

// writeUserError maps user store errors onto the standard envelope.
func writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, user.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", "email is already in use")
	case errors.Is(err, user.ErrNameRequired),
		errors.Is(err, user.ErrEmailRequired),
		errors.Is(err, user.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
