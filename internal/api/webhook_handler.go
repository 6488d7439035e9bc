package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/opsdesk/opsdesk/internal/activity"
	"github.com/opsdesk/opsdesk/internal/auth"
	"github.com/opsdesk/opsdesk/internal/webhook"
)

// webhookConfigStore is the persistence surface the webhook handlers need.
type webhookConfigStore interface {
	Get(ctx context.Context) (*webhook.Config, error)
	GetActive(ctx context.Context) (*webhook.Config, error)
	Save(ctx context.Context, in webhook.SaveConfigInput) (*webhook.Config, error)
}

// deliverer performs a single synchronous delivery attempt.
type deliverer interface {
	Deliver(ctx context.Context, url, event string, payload any) error
}

// activityReader loads an activity snapshot for manual sends, subject to the
// actor's read visibility.
type activityReader interface {
	Get(ctx context.Context, id int64, actor *auth.Principal) (*activity.Activity, error)
}

// webhookHandler groups webhook configuration and send HTTP handlers.
// Unlike auto-send, the test and manual-send endpoints report delivery
// failures to the caller.
type webhookHandler struct {
	store      webhookConfigStore
	dispatcher deliverer
	activities activityReader
}

func newWebhookHandler(store webhookConfigStore, dispatcher deliverer, activities activityReader) *webhookHandler {
	return &webhookHandler{store: store, dispatcher: dispatcher, activities: activities}
}

// GetConfig handles GET /api/webhook/config. Answers a disabled default when
// nothing was saved yet.
func (h *webhookHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load webhook config")
		return
	}
	if cfg == nil {
		cfg = &webhook.Config{Fields: webhook.DefaultFields()}
	}
	writeJSON(w, http.StatusOK, cfg)
}

// SaveConfig handles POST /api/webhook/config (admin only).
func (h *webhookHandler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var in webhook.SaveConfigInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if in.Active && in.URL == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "url is required for an active webhook")
		return
	}

	cfg, err := h.store.Save(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save webhook config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type testWebhookRequest struct {
	URL string `json:"url"`
}

// Test handles POST /api/webhook/test. Sends a ping payload to the given URL
// and reports the outcome.
func (h *webhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req testWebhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "url is required")
		return
	}

	payload := map[string]any{
		"message":   "opsdesk webhook test",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.dispatcher.Deliver(r.Context(), req.URL, webhook.EventPing, payload); err != nil {
		writeDeliveryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "webhook test delivered"})
}

type sendWebhookRequest struct {
	ActivityID int64 `json:"activityId"`
}

// Send handles POST /api/webhook/send. Delivers a single activity through
// the saved configuration.
func (h *webhookHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendWebhookRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.ActivityID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "activityId is required")
		return
	}

	cfg, err := h.store.GetActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load webhook config")
		return
	}
	if cfg == nil {
		writeError(w, http.StatusBadRequest, "webhook_not_configured", "no active webhook is configured")
		return
	}

	a, err := h.activities.Get(r.Context(), req.ActivityID, auth.PrincipalFromContext(r.Context()))
	if err != nil {
		writeActivityError(w, err)
		return
	}

	payload := webhook.BuildPayload(a, cfg.Fields)
	if err := h.dispatcher.Deliver(r.Context(), cfg.URL, webhook.EventManual, payload); err != nil {
		writeDeliveryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "webhook delivered"})
}

// writeDeliveryError maps dispatch failures: timeouts answer 504, everything
// else from the endpoint answers 502.
func writeDeliveryError(w http.ResponseWriter, err error) {
	var upstream *webhook.UpstreamError
	switch {
	case errors.Is(err, webhook.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "webhook_timeout", "the webhook endpoint did not respond in time")
	case errors.As(err, &upstream):
		writeError(w, http.StatusBadGateway, "webhook_failed", upstream.Error())
	default:
		writeError(w, http.StatusBadGateway, "webhook_failed", "failed to reach the webhook endpoint")
	}
}
