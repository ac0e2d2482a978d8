package httpapi

import (
	"encoding/json"
	"net/http"

	"allotment-engine/internal/secrets"
)

type SecretsHandler struct{}

type setSolverKeyReq struct {
	Key string `json:"key"`
}

func (h SecretsHandler) SetSolverKey(w http.ResponseWriter, r *http.Request) {
	var req setSolverKeyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if err := secrets.SetSolverKey(req.Key); err != nil {
		http.Error(w, "failed to store solver key: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h SecretsHandler) DeleteSolverKey(w http.ResponseWriter, r *http.Request) {
	if err := secrets.DeleteSolverKey(); err != nil {
		http.Error(w, "failed to delete solver key: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
