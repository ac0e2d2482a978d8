package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"allotment-engine/internal/domain"
	"allotment-engine/internal/store"
)

func testQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(db.Pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db.Pool, cfg)
}

func TestEnqueueClaimDone(t *testing.T) {
	q := testQueue(t, Config{})
	ctx := context.Background()

	jobs := []domain.Job{
		{IPOID: 1, CompanyName: "Tata Technologies", PAN: "aaaaa1111a", RegistrarHint: "LINK INTIME"},
		{IPOID: 1, CompanyName: "Tata Technologies", PAN: "BBBBB2222B", RegistrarHint: "LINK INTIME"},
	}
	if err := q.EnqueueBatch(ctx, jobs); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first.Job.PAN != "AAAAA1111A" {
		t.Fatalf("claim order: got pan %s, want AAAAA1111A (normalized, FIFO)", first.Job.PAN)
	}

	second, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim second: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("claimed the same job twice inside the lease")
	}

	if _, err := q.Claim(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim on drained queue: err = %v, want ErrEmpty", err)
	}

	if err := q.Done(ctx, first.ID); err != nil {
		t.Fatalf("done: %v", err)
	}
	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Claimed != 1 || st.Pending != 0 {
		t.Fatalf("stats after done: %+v", st)
	}
}

func TestFailRetriesThenParks(t *testing.T) {
	q := testQueue(t, Config{MaxAttempts: 2})
	ctx := context.Background()

	if err := q.EnqueueBatch(ctx, []domain.Job{{IPOID: 1, CompanyName: "X", PAN: "AAAAA1111A"}}); err != nil {
		t.Fatal(err)
	}

	c, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Fail(ctx, c.ID, "registrar timeout"); err != nil {
		t.Fatal(err)
	}

	// first failure: back to pending
	c, err = q.Claim(ctx)
	if err != nil {
		t.Fatalf("re-claim after first failure: %v", err)
	}
	if c.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", c.Attempts)
	}

	if err := q.Fail(ctx, c.ID, "registrar timeout"); err != nil {
		t.Fatal(err)
	}

	// second failure hits MaxAttempts: parked, not re-delivered
	if _, err := q.Claim(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("claim after park: err = %v, want ErrEmpty", err)
	}
	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Failed != 1 {
		t.Fatalf("failed = %d, want 1", st.Failed)
	}
}

func TestExpiredClaimIsRedelivered(t *testing.T) {
	q := testQueue(t, Config{})
	ctx := context.Background()

	if err := q.EnqueueBatch(ctx, []domain.Job{{IPOID: 1, CompanyName: "X", PAN: "AAAAA1111A"}}); err != nil {
		t.Fatal(err)
	}
	c, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// backdate the claim beyond the lease
	expired := time.Now().UTC().Add(-ClaimLease - time.Minute).Format(time.RFC3339)
	if _, err := q.db.ExecContext(ctx, `UPDATE queue_jobs SET claimed_at = ? WHERE id = ?;`, expired, c.ID); err != nil {
		t.Fatal(err)
	}

	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("expired claim not re-delivered: %v", err)
	}
	if again.ID != c.ID {
		t.Fatalf("re-delivered id = %d, want %d", again.ID, c.ID)
	}
}

func TestPruneFailedKeepsNewest(t *testing.T) {
	q := testQueue(t, Config{MaxAttempts: 1, KeepFailed: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := q.EnqueueBatch(ctx, []domain.Job{{IPOID: int64(i), CompanyName: "X", PAN: "AAAAA1111A"}}); err != nil {
			t.Fatal(err)
		}
		c, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Fail(ctx, c.ID, "boom"); err != nil {
			t.Fatal(err)
		}
	}

	pruned, err := q.PruneFailed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}
	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Failed != 2 {
		t.Fatalf("failed after prune = %d, want 2", st.Failed)
	}
}
