package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/user"
)

// authMetrics is the subset of metrics the auth handlers record.
type authMetrics interface {
	IncAuthFailure(reason string)
	IncAuthSuccess()
}

// credentialStore is the persistence surface the auth handlers need.
type credentialStore interface {
	FindByLogin(ctx context.Context, login string) (*user.User, string, error)
	GetByID(ctx context.Context, id int64) (*user.User, error)
	CreateSession(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, tokenHash string) error
	SessionExists(ctx context.Context, tokenHash string) (bool, error)
	ChangePassword(ctx context.Context, id int64, current, next string) error
}

// authHandler groups login, logout, status and password HTTP handlers.
type authHandler struct {
	users   credentialStore
	tokens  *auth.Tokens
	ttl     time.Duration
	metrics authMetrics
}

func newAuthHandler(users credentialStore, tokens *auth.Tokens, ttl time.Duration, m authMetrics) *authHandler {
	return &authHandler{users: users, tokens: tokens, ttl: ttl, metrics: m}
}

func (h *authHandler) incFailure(reason string) {
	if h.metrics != nil {
		h.metrics.IncAuthFailure(reason)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login. The identifier matches account name
// first, email second.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "username and password are required")
		return
	}

	u, hash, err := h.users.FindByLogin(r.Context(), req.Username)
	if errors.Is(err, user.ErrNotFound) {
		h.incFailure("unknown_user")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve login")
		return
	}
	if !user.VerifyPassword(hash, req.Password) {
		h.incFailure("bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}
	if !u.Active {
		h.incFailure("inactive_account")
		writeError(w, http.StatusForbidden, "account_disabled", "this account is deactivated")
		return
	}
	if !u.CanLogin {
		h.incFailure("login_not_allowed")
		writeError(w, http.StatusForbidden, "login_not_allowed", "this account cannot log in")
		return
	}

	token, err := h.tokens.Issue(auth.Principal{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}
	if err := h.users.CreateSession(r.Context(), u.ID, auth.HashToken(token), time.Now().Add(h.ttl)); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}
	if h.metrics != nil {
		h.metrics.IncAuthSuccess()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  u,
	})
}

// Status handles GET /api/auth/status. It never fails: an absent or invalid
// token answers isAuthenticated false with a 200.
func (h *authHandler) Status(w http.ResponseWriter, r *http.Request) {
	raw := auth.ExtractBearerToken(r)
	if raw == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"isAuthenticated": false})
		return
	}
	p, err := h.tokens.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"isAuthenticated": false})
		return
	}
	exists, err := h.users.SessionExists(r.Context(), auth.HashToken(raw))
	if err != nil || !exists {
		writeJSON(w, http.StatusOK, map[string]interface{}{"isAuthenticated": false})
		return
	}
	// The stored row, not the token claims, carries password_changed and the
	// sector, so the client sees password resets without re-logging in.
	u, err := h.users.GetByID(r.Context(), p.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"isAuthenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"isAuthenticated": true,
		"user":            u,
	})
}

// Logout handles POST /api/auth/logout. Revokes the presented token's session.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw := auth.ExtractBearerToken(r)
	if raw != "" {
		if err := h.users.DeleteSession(r.Context(), auth.HashToken(raw)); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to end session")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	UserID          *int64 `json:"userId"`
}

// ChangePassword handles POST /api/auth/change-password. Accounts may only
// change their own password; the optional userId must match the caller.
func (h *authHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req changePasswordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.UserID != nil && *req.UserID != p.ID {
		writeError(w, http.StatusForbidden, "forbidden", "you do not have permission to perform this action")
		return
	}

	err := h.users.ChangePassword(r.Context(), p.ID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, user.ErrPasswordRequired):
		writeError(w, http.StatusBadRequest, "validation_error", "new password is required")
	case errors.Is(err, user.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "current password is incorrect")
	case errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to change password")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
	}
}
