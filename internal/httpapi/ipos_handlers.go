package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"allotment-engine/internal/domain"
	"allotment-engine/internal/store"
)

type IPOHandler struct {
	DB *sql.DB
}

// Seed loads or refreshes one IPO lookup record. The resolution engine
// treats these rows as read-only; this is the only write path.
func (h IPOHandler) Seed(w http.ResponseWriter, r *http.Request) {
	var ipo domain.IPO
	if err := json.NewDecoder(r.Body).Decode(&ipo); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	if ipo.ID <= 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_ipo", "id is required")
		return
	}
	if strings.TrimSpace(ipo.CompanyName) == "" || strings.TrimSpace(ipo.RegistrarName) == "" {
		WriteError(w, r, http.StatusBadRequest, "invalid_ipo", "companyName and registrarName are required")
		return
	}

	if err := store.SeedIPO(r.Context(), h.DB, ipo); err != nil {
		WriteError(w, r, http.StatusInternalServerError, "seed_failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, ipo)
}

func (h IPOHandler) GetByPath(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/admin/ipos/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_ipo", "bad ipo id in path")
		return
	}

	ipo, err := store.LookupIPO(r.Context(), h.DB, id)
	if errors.Is(err, store.ErrIPONotFound) {
		WriteError(w, r, http.StatusNotFound, "ipo_not_found", "no IPO with that id")
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "lookup_failed", err.Error())
		return
	}
	writeJSON(w, ipo)
}
