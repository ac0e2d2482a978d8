package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"allotment-engine/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(db.Pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func countRows(t *testing.T, db *DB, ipoID int64, pan string) int {
	t.Helper()
	var n int
	err := db.Pool.QueryRow(
		`SELECT COUNT(*) FROM allotment_results WHERE ipo_id = ? AND pan = ?;`,
		ipoID, pan,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestUpsertInFlightConcurrentSingleRow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := UpsertInFlight(ctx, db.Pool, 1, "abcde1234f")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("upsert in-flight: %v", err)
		}
	}
	if n := countRows(t, db, 1, "ABCDE1234F"); n != 1 {
		t.Fatalf("got %d rows for one (ipo, pan), want 1", n)
	}
}

func TestUpsertInFlightOverwritesTerminal(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := UpsertOutcome(ctx, db.Pool, 1, "ABCDE1234F", domain.StatusError, 0, "timeout"); err != nil {
		t.Fatal(err)
	}
	r, err := UpsertInFlight(ctx, db.Pool, 1, "ABCDE1234F")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != domain.StatusInFlight {
		t.Fatalf("status = %s, want IN_FLIGHT", r.Status)
	}

	got, err := GetResults(ctx, db.Pool, 1, []string{"ABCDE1234F"})
	if err != nil {
		t.Fatal(err)
	}
	if got["ABCDE1234F"].Status != domain.StatusInFlight {
		t.Fatalf("stored status = %s, want IN_FLIGHT", got["ABCDE1234F"].Status)
	}
}

func TestUpsertOutcomeIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first, err := UpsertOutcome(ctx, db.Pool, 7, "XYZAB9876K", domain.StatusAllotted, 10, "allotted 10 shares")
	if err != nil {
		t.Fatal(err)
	}
	second, err := UpsertOutcome(ctx, db.Pool, 7, "XYZAB9876K", domain.StatusAllotted, 10, "allotted 10 shares")
	if err != nil {
		t.Fatal(err)
	}

	if second.Status != first.Status || second.Units != first.Units || second.Message != first.Message {
		t.Fatalf("second upsert changed the row: %+v vs %+v", second, first)
	}
	if second.LastChecked.Before(first.LastChecked) {
		t.Fatal("second upsert must not move last_checked backwards")
	}
	if n := countRows(t, db, 7, "XYZAB9876K"); n != 1 {
		t.Fatalf("got %d rows, want 1", n)
	}
}

func TestUpsertOutcomeClampsNegativeUnits(t *testing.T) {
	db := testDB(t)

	r, err := UpsertOutcome(context.Background(), db.Pool, 1, "ABCDE1234F", domain.StatusNotAllotted, -3, "")
	if err != nil {
		t.Fatal(err)
	}
	if r.Units != 0 {
		t.Fatalf("units = %d, want 0", r.Units)
	}
}

func TestGetResultsBatch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := UpsertOutcome(ctx, db.Pool, 3, "AAAAA1111A", domain.StatusAllotted, 5, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := UpsertOutcome(ctx, db.Pool, 3, "BBBBB2222B", domain.StatusNotApplied, 0, ""); err != nil {
		t.Fatal(err)
	}
	// different IPO, same PAN; must not leak into the batch
	if _, err := UpsertOutcome(ctx, db.Pool, 4, "AAAAA1111A", domain.StatusError, 0, "down"); err != nil {
		t.Fatal(err)
	}

	got, err := GetResults(ctx, db.Pool, 3, []string{"aaaaa1111a", "BBBBB2222B", "CCCCC3333C"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2 (absent PAN must stay absent)", len(got))
	}
	if got["AAAAA1111A"].Status != domain.StatusAllotted || got["AAAAA1111A"].Units != 5 {
		t.Fatalf("unexpected row: %+v", got["AAAAA1111A"])
	}
	if _, ok := got["CCCCC3333C"]; ok {
		t.Fatal("absent PAN reported as present")
	}
}

func TestStaleResults(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	seed := []struct {
		ipo    int64
		pan    string
		status domain.Status
	}{
		{1, "AAAAA1111A", domain.StatusError},
		{1, "BBBBB2222B", domain.StatusUnknown},
		{1, "CCCCC3333C", domain.StatusAllotted},
		{2, "DDDDD4444D", domain.StatusError}, // out of scope IPO
	}
	for _, s := range seed {
		if _, err := UpsertOutcome(ctx, db.Pool, s.ipo, s.pan, s.status, 0, ""); err != nil {
			t.Fatal(err)
		}
	}

	stale, err := StaleResults(ctx, db.Pool, []int64{1})
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 2 {
		t.Fatalf("got %d stale rows, want 2: %+v", len(stale), stale)
	}
	for _, r := range stale {
		if r.Status.Terminal() && r.Status != domain.StatusError && r.Status != domain.StatusUnknown {
			t.Fatalf("unexpected status in stale set: %s", r.Status)
		}
	}
}

func TestLookupIPO(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	listed := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	want := domain.IPO{
		ID:            11,
		CompanyName:   "Tata Technologies Limited",
		RegistrarName: "Link Intime India Private Ltd",
		ClientID:      "TATATECH",
		ListingDate:   &listed,
		AllotmentOut:  true,
	}
	if err := SeedIPO(ctx, db.Pool, want); err != nil {
		t.Fatal(err)
	}

	got, err := LookupIPO(ctx, db.Pool, 11)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompanyName != want.CompanyName || got.RegistrarName != want.RegistrarName || !got.AllotmentOut {
		t.Fatalf("lookup mismatch: %+v", got)
	}
	if got.ListingDate == nil || !got.ListingDate.Equal(listed) {
		t.Fatalf("listing date mismatch: %v", got.ListingDate)
	}

	if _, err := LookupIPO(ctx, db.Pool, 999); err != ErrIPONotFound {
		t.Fatalf("err = %v, want ErrIPONotFound", err)
	}
}

func TestSweepableIPOs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -30)
	recent := time.Now().UTC().AddDate(0, 0, -2)

	if err := SeedIPO(ctx, db.Pool, domain.IPO{ID: 1, CompanyName: "Old Co", RegistrarName: "Kfin", ListingDate: &old}); err != nil {
		t.Fatal(err)
	}
	if err := SeedIPO(ctx, db.Pool, domain.IPO{ID: 2, CompanyName: "Recent Co", RegistrarName: "Kfin", ListingDate: &recent}); err != nil {
		t.Fatal(err)
	}
	if err := SeedIPO(ctx, db.Pool, domain.IPO{ID: 3, CompanyName: "Flagged Co", RegistrarName: "Kfin", ListingDate: &old, AllotmentOut: true}); err != nil {
		t.Fatal(err)
	}

	ids, err := SweepableIPOs(ctx, db.Pool, 7)
	if err != nil {
		t.Fatal(err)
	}
	got := map[int64]bool{}
	for _, id := range ids {
		got[id] = true
	}
	if got[1] || !got[2] || !got[3] {
		t.Fatalf("sweepable = %v, want {2, 3}", ids)
	}
}
