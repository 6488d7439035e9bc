package api

import (
	"net/http"
	"time"

	"github.com/opsdesk/opsdesk/internal/activity"
	"github.com/opsdesk/opsdesk/internal/auth"
)

// reportsHandler serves the reporting views. Reports share the activity list
// filters; only the JSON export is implemented.
type reportsHandler struct {
	svc *activity.Service
}

func newReportsHandler(svc *activity.Service) *reportsHandler {
	return &reportsHandler{svc: svc}
}

// List handles GET /api/reports.
func (h *reportsHandler) List(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	items, err := h.svc.List(r.Context(), filtersFromQuery(r), p)
	if err != nil {
		writeActivityError(w, err)
		return
	}
	if items == nil {
		items = []*activity.Activity{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Export handles GET /api/reports/export. Only a JSON dump is supported.
func (h *reportsHandler) Export(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	items, err := h.svc.List(r.Context(), filtersFromQuery(r), p)
	if err != nil {
		writeActivityError(w, err)
		return
	}
	if items == nil {
		items = []*activity.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"format":     "json",
		"exportedAt": time.Now().UTC().Format(time.RFC3339),
		"count":      len(items),
		"activities": items,
	})
}
