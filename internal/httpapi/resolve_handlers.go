package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"allotment-engine/internal/events"
	"allotment-engine/internal/resolve"
	"allotment-engine/internal/store"
)

type ResolveHandler struct {
	Resolver *resolve.Resolver
	Hub      *events.Hub
}

type resolveReq struct {
	IPOID int64    `json:"ipo_id"`
	PANs  []string `json:"pans"`
}

const maxPANsPerRequest = 100

// Resolve answers immediately with best-known statuses; anything queued
// here surfaces on a later poll or over /events.
func (h ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON: "+err.Error())
		return
	}
	if req.IPOID <= 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_ipo", "ipo_id is required")
		return
	}
	if len(req.PANs) == 0 {
		WriteError(w, r, http.StatusBadRequest, "invalid_pans", "pans must have at least 1 entry")
		return
	}
	if len(req.PANs) > maxPANsPerRequest {
		WriteError(w, r, http.StatusBadRequest, "invalid_pans", "too many pans in one request")
		return
	}

	rep, err := h.Resolver.Resolve(r.Context(), req.IPOID, req.PANs)
	if errors.Is(err, store.ErrIPONotFound) {
		WriteError(w, r, http.StatusNotFound, "ipo_not_found", "no IPO with that id")
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "resolve_failed", err.Error())
		return
	}

	if h.Hub != nil && rep.Summary.Checking > 0 {
		h.Hub.Publish(events.MakeEvent(RequestIDFrom(r.Context()), events.TypeResolutionQueued, 1, map[string]any{
			"ipoId":    req.IPOID,
			"checking": rep.Summary.Checking,
		}))
	}
	WriteJSON(w, http.StatusOK, rep)
}
