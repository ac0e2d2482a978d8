package httpapi

import "net/http"

// NewMux returns the raw mux so main() can still attach /shutdown (needs srv+token).
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Resolution
	rh := ResolveHandler{Resolver: d.Resolver, Hub: d.Hub}
	mux.HandleFunc("/resolve", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: rh.Resolve,
	}))

	// Engine status
	sh := StatusHandler{DB: d.DB, Queue: d.Queue, SweepStatus: d.SweepStatus, SweepBacklog: d.SweepBacklog}
	mux.HandleFunc("/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.Status,
	}))

	// Sweep
	swh := SweepHandler{SweepStatus: d.SweepStatus, RunSweepOnce: d.RunSweepOnce}
	mux.HandleFunc("/sweep/run", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: swh.Run,
	}))

	// IPO lookup records (manual load surface)
	ih := IPOHandler{DB: d.DB}
	mux.HandleFunc("/admin/ipos", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: ih.Seed,
	}))
	mux.HandleFunc("/admin/ipos/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ih.GetByPath, // expects /admin/ipos/{id}
	}))

	// Config
	ch := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
	}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Get,
		http.MethodPut: ch.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Path,
	}))
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Validate,
	}))

	// Secrets
	seh := SecretsHandler{}
	mux.HandleFunc("/api/secrets/solver", methodMux(map[string]http.HandlerFunc{
		http.MethodPost:   seh.SetSolverKey,
		http.MethodDelete: seh.DeleteSolverKey,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	// Health
	hh := HealthHandler{}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))

	return mux
}
