package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsdesk/opsdesk/internal/activity"
	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/ratelimit"
	"github.com/opsdesk/opsdesk/internal/sector"
	"github.com/opsdesk/opsdesk/internal/user"
	"github.com/opsdesk/opsdesk/internal/webhook"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Activities     *activity.Service
	Users          *user.Store
	Sectors        *sector.Store
	WebhookStore   *webhook.Store
	Dispatcher     *webhook.Dispatcher
	Tokens         *auth.Tokens
	TokenTTL       time.Duration
	LoginLimiter   *ratelimit.Limiter
	Metrics        *metrics.Metrics
	DBPool         *pgxpool.Pool
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// Handlers. The typed-nil guard keeps metrics optional in tests.
	var am authMetrics
	if deps.Metrics != nil {
		am = deps.Metrics
	}
	authH := newAuthHandler(deps.Users, deps.Tokens, deps.TokenTTL, am)
	activities := newActivitiesHandler(deps.Activities)
	users := newUsersHandler(deps.Users)
	sectors := newSectorsHandler(deps.Sectors)
	webhooks := newWebhookHandler(deps.WebhookStore, deps.Dispatcher, deps.Activities)
	reports := newReportsHandler(deps.Activities)

	// Health check.
	r.Get("/health", healthHandler(deps.DBPool))

	// Metrics.
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/metrics/summary", deps.Metrics.Handler())
	}

	// Public routes.
	r.Group(func(pr chi.Router) {
		if deps.LoginLimiter != nil {
			pr.Use(ratelimit.Middleware(deps.LoginLimiter, loginRejectCounter(deps.Metrics)))
		}
		pr.Post("/api/auth/login", authH.Login)
	})
	r.Get("/api/auth/status", authH.Status)

	// Authenticated routes.
	r.Group(func(ar chi.Router) {
		ar.Use(auth.RequireUser(deps.Tokens, deps.Users))

		ar.Post("/api/auth/logout", authH.Logout)
		ar.Post("/api/auth/change-password", authH.ChangePassword)

		ar.Get("/api/activities", activities.List)
		ar.Post("/api/activities", activities.Create)
		ar.Get("/api/activities/summary/dashboard", activities.DashboardSummary)
		ar.Get("/api/activities/{id}", activities.Get)
		ar.Put("/api/activities/{id}", activities.Update)
		ar.Delete("/api/activities/{id}", activities.Delete)

		ar.Get("/api/users", users.List)
		ar.Post("/api/users", users.Create)
		ar.Put("/api/users/{id}", users.Update)
		ar.Delete("/api/users/{id}", users.Delete)
		ar.Post("/api/users/{id}/reset-password", users.ResetPassword)

		ar.Get("/api/sectors", sectors.List)
		ar.Post("/api/sectors", sectors.Create)

		ar.Get("/api/webhook/config", webhooks.GetConfig)
		ar.Post("/api/webhook/config", webhooks.SaveConfig)
		ar.Post("/api/webhook/test", webhooks.Test)
		ar.Post("/api/webhook/send", webhooks.Send)

		ar.Get("/api/reports", reports.List)
		ar.Get("/api/reports/export", reports.Export)
	})

	return r
}

// healthHandler pings the database when a pool is configured.
func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "error",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}

// loginRejectCounter returns the rejection callback for the login limiter.
func loginRejectCounter(m *metrics.Metrics) func() {
	return func() {
		if m != nil {
			m.IncRateLimitRejection("login")
		}
	}
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}
