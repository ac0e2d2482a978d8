package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"allotment-engine/internal/config"
	"allotment-engine/internal/domain"
	"allotment-engine/internal/events"
	"allotment-engine/internal/queue"
	"allotment-engine/internal/resolve"
	"allotment-engine/internal/store"
)

func testServer(t *testing.T) (*httptest.Server, *store.DB, *queue.Queue) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(db.Pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	q := queue.New(db.Pool, queue.Config{})
	hub := events.NewHub()

	var cfgVal, sweepVal atomic.Value
	cfgVal.Store(config.Default())

	mux := NewMux(Deps{
		DB:           db.Pool,
		Hub:          hub,
		Resolver:     resolve.New(db.Pool, q),
		Queue:        q,
		CfgVal:       &cfgVal,
		SweepStatus:  &sweepVal,
		UserCfgPath:  filepath.Join(t.TempDir(), "config.yml"),
		LoadCfg:      func() (config.Config, error) { return config.Default(), nil },
		RunSweepOnce: func(ctx context.Context) error { return nil },
	})
	srv := httptest.NewServer(Chain(mux, RequestID, Recover))
	t.Cleanup(srv.Close)
	return srv, db, q
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return res
}

func TestResolveEndpoint(t *testing.T) {
	srv, db, q := testServer(t)
	ctx := context.Background()

	err := store.SeedIPO(ctx, db.Pool, domain.IPO{
		ID: 1, CompanyName: "Tata Technologies Limited", RegistrarName: "Link Intime",
	})
	if err != nil {
		t.Fatal(err)
	}

	res := postJSON(t, srv.URL+"/resolve", map[string]any{
		"ipo_id": 1,
		"pans":   []string{"abcde1234f"},
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	var rep resolve.Report
	if err := json.NewDecoder(res.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if len(rep.Details) != 1 || rep.Details[0].Status != domain.StatusInFlight {
		t.Fatalf("report = %+v, want one IN_FLIGHT detail", rep)
	}
	if rep.Summary.Checking != 1 {
		t.Fatalf("summary = %+v", rep.Summary)
	}

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 1 {
		t.Fatalf("queue stats = %+v, want 1 pending job", st)
	}
}

func TestResolveEndpointValidation(t *testing.T) {
	srv, _, _ := testServer(t)

	cases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing ipo", map[string]any{"pans": []string{"ABCDE1234F"}}, http.StatusBadRequest},
		{"empty pans", map[string]any{"ipo_id": 1, "pans": []string{}}, http.StatusBadRequest},
		{"unknown ipo", map[string]any{"ipo_id": 42, "pans": []string{"ABCDE1234F"}}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(t, srv.URL+"/resolve", tc.body)
			defer res.Body.Close()
			if res.StatusCode != tc.code {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.code)
			}
			var e APIError
			if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
				t.Fatalf("error body not structured: %v", err)
			}
			if e.Error.Code == "" || e.Error.Message == "" {
				t.Fatalf("error body incomplete: %+v", e)
			}
		})
	}
}

func TestAdminIPOSeedAndGet(t *testing.T) {
	srv, _, _ := testServer(t)

	res := postJSON(t, srv.URL+"/admin/ipos", map[string]any{
		"id":            7,
		"companyName":   "Premier Energies Limited",
		"registrarName": "KFin Technologies",
		"allotmentOut":  true,
	})
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("seed status = %d, want 200", res.StatusCode)
	}

	get, err := http.Get(srv.URL + "/admin/ipos/7")
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", get.StatusCode)
	}
	var ipo domain.IPO
	if err := json.NewDecoder(get.Body).Decode(&ipo); err != nil {
		t.Fatal(err)
	}
	if ipo.CompanyName != "Premier Energies Limited" || !ipo.AllotmentOut {
		t.Fatalf("got %+v", ipo)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, db, q := testServer(t)
	ctx := context.Background()

	if _, err := store.UpsertOutcome(ctx, db.Pool, 1, "ABCDE1234F", domain.StatusAllotted, 10, ""); err != nil {
		t.Fatal(err)
	}
	if err := q.EnqueueBatch(ctx, []domain.Job{{IPOID: 1, CompanyName: "X", PAN: "BBBBB2222B"}}); err != nil {
		t.Fatal(err)
	}

	res, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var body struct {
		Queue   queue.Stats    `json:"queue"`
		Results map[string]int `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Queue.Pending != 1 {
		t.Fatalf("queue = %+v, want 1 pending", body.Queue)
	}
	if body.Results["ALLOTTED"] != 1 {
		t.Fatalf("results = %+v", body.Results)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := testServer(t)

	res, err := http.Get(srv.URL + "/resolve")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", res.StatusCode)
	}
}
