package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const principalContextKey contextKey = iota

// ContextWithPrincipal returns a new context carrying the given principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the principal from the context, or nil if not
// present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// SessionChecker reports whether a session for the given token hash is still
// live. Tokens are revocable: logout deletes the session row, after which a
// still-valid JWT is rejected.
type SessionChecker interface {
	SessionExists(ctx context.Context, tokenHash string) (bool, error)
}

// RequireUser returns middleware that authenticates requests via a bearer
// token. The token signature is verified and the backing session must still
// exist. On success the principal is injected into the request context.
func RequireUser(tokens *Tokens, sessions SessionChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractBearerToken(r)
			if raw == "" {
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			p, err := tokens.Parse(raw)
			if err != nil {
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			ok, err := sessions.SessionExists(r.Context(), HashToken(raw))
			if err != nil || !ok {
				writeUnauthorized(w, "invalid or expired session")
				return
			}

			ctx := ContextWithPrincipal(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractBearerToken extracts the bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Code:    "unauthorized",
			Message: message,
		},
	})
}
