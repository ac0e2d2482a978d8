package sweep

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"allotment-engine/internal/domain"
	"allotment-engine/internal/resolve"
	"allotment-engine/internal/store"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
}

func (f *fakeQueue) EnqueueBatch(ctx context.Context, jobs []domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobs...)
	return nil
}

func setup(t *testing.T) (*store.DB, *fakeQueue, *Sweeper) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(db.Pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	q := &fakeQueue{}
	s := &Sweeper{DB: db.Pool, Resolver: resolve.New(db.Pool, q)}
	return db, q, s
}

func seedIPO(t *testing.T, db *store.DB, id int64, age time.Duration, out bool) {
	t.Helper()
	listed := time.Now().UTC().Add(-age)
	err := store.SeedIPO(context.Background(), db.Pool, domain.IPO{
		ID:            id,
		CompanyName:   "Company",
		RegistrarName: "Link Intime",
		ListingDate:   &listed,
		AllotmentOut:  out,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSweepRequeuesErrorAndUnknown(t *testing.T) {
	db, q, s := setup(t)
	ctx := context.Background()

	seedIPO(t, db, 1, 48*time.Hour, false)
	if _, err := store.UpsertOutcome(ctx, db.Pool, 1, "AAAAA1111A", domain.StatusError, 0, "timeout"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertOutcome(ctx, db.Pool, 1, "BBBBB2222B", domain.StatusUnknown, 0, "not found"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertOutcome(ctx, db.Pool, 1, "CCCCC3333C", domain.StatusAllotted, 5, ""); err != nil {
		t.Fatal(err)
	}

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(q.jobs) != 2 {
		t.Fatalf("requeued %d jobs, want 2 (ALLOTTED must stay put)", len(q.jobs))
	}

	rows, err := store.GetResults(ctx, db.Pool, 1, []string{"AAAAA1111A", "BBBBB2222B", "CCCCC3333C"})
	if err != nil {
		t.Fatal(err)
	}
	if rows["AAAAA1111A"].Status != domain.StatusInFlight || rows["BBBBB2222B"].Status != domain.StatusInFlight {
		t.Fatalf("stale rows not marked in flight: %+v", rows)
	}
	if rows["CCCCC3333C"].Status != domain.StatusAllotted {
		t.Fatal("sweep touched a terminal success row")
	}
}

func TestSweepSkipsOutOfWindowIPOs(t *testing.T) {
	db, q, s := setup(t)
	ctx := context.Background()

	seedIPO(t, db, 1, 30*24*time.Hour, false) // long listed, not flagged
	if _, err := store.UpsertOutcome(ctx, db.Pool, 1, "AAAAA1111A", domain.StatusError, 0, "timeout"); err != nil {
		t.Fatal(err)
	}

	if err := s.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(q.jobs) != 0 {
		t.Fatalf("requeued %d jobs for an out-of-window IPO, want 0", len(q.jobs))
	}
}

func TestSweepIncludesFlaggedIPOsRegardlessOfAge(t *testing.T) {
	db, q, s := setup(t)
	ctx := context.Background()

	seedIPO(t, db, 1, 30*24*time.Hour, true) // old but allotment_out
	if _, err := store.UpsertOutcome(ctx, db.Pool, 1, "AAAAA1111A", domain.StatusUnknown, 0, ""); err != nil {
		t.Fatal(err)
	}

	if err := s.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("requeued %d jobs, want 1 for the flagged IPO", len(q.jobs))
	}
}

func TestSweepNoStaleRowsIsQuiet(t *testing.T) {
	db, q, s := setup(t)
	seedIPO(t, db, 1, time.Hour, false)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(q.jobs) != 0 {
		t.Fatalf("requeued %d jobs from an empty store", len(q.jobs))
	}
}
