package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opsdesk/opsdesk/internal/activity"
	"github.com/opsdesk/opsdesk/internal/auth"
)

// activitiesHandler groups activity CRUD and dashboard HTTP handlers.
type activitiesHandler struct {
	svc *activity.Service
}

func newActivitiesHandler(svc *activity.Service) *activitiesHandler {
	return &activitiesHandler{svc: svc}
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// filtersFromQuery builds list filters from the request query string.
func filtersFromQuery(r *http.Request) activity.Filters {
	q := r.URL.Query()
	f := activity.Filters{
		Origin:    q.Get("origin"),
		Name:      q.Get("activity"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Status:    q.Get("status"),
		Priority:  q.Get("priority"),
	}
	if raw := q.Get("responsible_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			f.ResponsibleID = &id
		}
	}
	return f
}

// List handles GET /api/activities.
func (h *activitiesHandler) List(w http.ResponseWriter, r *http.Request) {
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

// Get handles GET /api/activities/{id}.
func (h *activitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "activity id must be a positive integer")
		return
	}
	p := auth.PrincipalFromContext(r.Context())
	a, err := h.svc.Get(r.Context(), id, p)
	if err != nil {
		writeActivityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Create handles POST /api/activities.
func (h *activitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())

	var in activity.CreateActivityInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	a, err := h.svc.Create(r.Context(), in, p)
	if err != nil {
		writeActivityError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      a.ID,
		"message": "activity created",
	})
}

// Update handles PUT /api/activities/{id} and returns the full updated row.
func (h *activitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "activity id must be a positive integer")
		return
	}

	var in activity.UpdateActivityInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	a, err := h.svc.Update(r.Context(), id, in, p)
	if err != nil {
		writeActivityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Delete handles DELETE /api/activities/{id}.
func (h *activitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "activity id must be a positive integer")
		return
	}
	if err := h.svc.Delete(r.Context(), id, p); err != nil {
		writeActivityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "activity deleted"})
}

// DashboardSummary handles GET /api/activities/summary/dashboard.
func (h *activitiesHandler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	summary, err := h.svc.DashboardSummary(r.Context(), p)
	if err != nil {
		writeActivityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
