package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"sync/atomic"
	"time"

	"allotment-engine/internal/queue"
	"allotment-engine/internal/store"
)

type StatusHandler struct {
	DB          *sql.DB
	Queue       *queue.Queue
	SweepStatus *atomic.Value // httpapi.SweepStatus

	// SweepBacklog reports how many PANs the next sweep would re-queue.
	SweepBacklog func(ctx context.Context) (int, error)
}

func (h StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	qs, err := h.Queue.Stats(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	counts, err := store.ResultCounts(r.Context(), h.DB)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}

	sweep := SweepStatus{}
	if v := h.SweepStatus.Load(); v != nil {
		sweep = v.(SweepStatus)
	}

	backlog := 0
	if h.SweepBacklog != nil {
		if n, err := h.SweepBacklog(r.Context()); err == nil {
			backlog = n
		}
	}

	writeJSON(w, map[string]any{
		"queue":         qs,
		"results":       counts,
		"sweep":         sweep,
		"sweep_backlog": backlog,
	})
}

type SweepHandler struct {
	SweepStatus  *atomic.Value // httpapi.SweepStatus
	RunSweepOnce func(ctx context.Context) error
}

// Run triggers one reconciliation sweep out of band, mirroring what the
// scheduler does on its interval.
func (h SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	st := SweepStatus{}
	if v := h.SweepStatus.Load(); v != nil {
		st = v.(SweepStatus)
	}
	if st.Running {
		writeJSON(w, map[string]any{"ok": false, "msg": "already running"})
		return
	}

	h.SweepStatus.Store(SweepStatus{
		LastRunAt: time.Now().Format(time.RFC3339),
		Running:   true,
		LastOkAt:  st.LastOkAt,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		err := h.RunSweepOnce(ctx)

		now := time.Now().Format(time.RFC3339)
		next := SweepStatus{LastRunAt: now}
		if err != nil {
			next.LastError = err.Error()
		} else {
			next.LastOkAt = now
		}
		h.SweepStatus.Store(next)
	}()

	writeJSON(w, map[string]any{"ok": true})
}
