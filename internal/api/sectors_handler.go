package api

import (
	"errors"
	"net/http"

	"github.com/opsdesk/opsdesk/internal/sector"
)

// sectorsHandler groups sector HTTP handlers.
type sectorsHandler struct {
	store *sector.Store
}

func newSectorsHandler(store *sector.Store) *sectorsHandler {
	return &sectorsHandler{store: store}
}

// List handles GET /api/sectors.
func (h *sectorsHandler) List(w http.ResponseWriter, r *http.Request) {
	sectors, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list sectors")
		return
	}
	if sectors == nil {
		sectors = []*sector.Sector{}
	}
	writeJSON(w, http.StatusOK, sectors)
}

type createSectorRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/sectors (admin only).
func (h *sectorsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req createSectorRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	sec, err := h.store.Create(r.Context(), req.Name)
	if errors.Is(err, sector.ErrNameRequired) {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create sector")
		return
	}
	writeJSON(w, http.StatusCreated, sec)
}
