// Package queue is the durable, at-least-once scrape-work queue. Jobs
// live in sqlite next to the results they will eventually produce, so a
// crashed process picks its backlog back up on restart.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"allotment-engine/internal/domain"
)

// ErrEmpty is returned by Claim when nothing is ready.
var ErrEmpty = errors.New("queue empty")

// ClaimLease is how long a claimed job may run before it is considered
// abandoned and handed to another worker. At-least-once delivery comes
// from this re-delivery, not from any ack protocol.
const ClaimLease = 2 * time.Minute

type Config struct {
	MaxAttempts int // attempts before a job parks as failed
	KeepFailed  int // failed rows retained for diagnostics
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.KeepFailed <= 0 {
		c.KeepFailed = 200
	}
	return c
}

type Queue struct {
	db  *sql.DB
	cfg Config
}

func New(db *sql.DB, cfg Config) *Queue {
	return &Queue{db: db, cfg: cfg.withDefaults()}
}

// Claimed is a job handed to a worker, with the queue's bookkeeping id.
type Claimed struct {
	ID       int64
	Job      domain.Job
	Attempts int
}

// EnqueueBatch appends one row per job in a single transaction.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("enqueue begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, j := range jobs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO queue_jobs(ipo_id, pan, company, registrar_hint, client_id, state, attempts, enqueued_at)
VALUES(?,?,?,?,?,'pending',0,?);`,
			j.IPOID, domain.NormalizePAN(j.PAN), j.CompanyName, j.RegistrarHint, j.ClientID, now,
		); err != nil {
			return fmt.Errorf("enqueue ipo=%d pan=%s: %w", j.IPOID, j.PAN, err)
		}
	}
	return tx.Commit()
}

// Claim takes the oldest ready job: either pending, or claimed so long
// ago that its lease expired. The conditional UPDATE is the whole
// claim protocol; sqlite's single writer makes it race-free.
func (q *Queue) Claim(ctx context.Context) (Claimed, error) {
	now := time.Now().UTC()
	leaseCutoff := now.Add(-ClaimLease).Format(time.RFC3339)

	var c Claimed
	err := q.db.QueryRowContext(ctx, `
UPDATE queue_jobs
SET state = 'claimed', claimed_at = ?
WHERE id = (
  SELECT id FROM queue_jobs
  WHERE state = 'pending'
     OR (state = 'claimed' AND claimed_at < ?)
  ORDER BY id
  LIMIT 1
)
RETURNING id, ipo_id, pan, company, registrar_hint, client_id, attempts;`,
		now.Format(time.RFC3339), leaseCutoff,
	).Scan(
		&c.ID, &c.Job.IPOID, &c.Job.PAN, &c.Job.CompanyName,
		&c.Job.RegistrarHint, &c.Job.ClientID, &c.Attempts,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Claimed{}, ErrEmpty
	}
	if err != nil {
		return Claimed{}, fmt.Errorf("claim: %w", err)
	}
	return c, nil
}

// Done removes a completed job. Completed jobs are never retained.
func (q *Queue) Done(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("done job=%d: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. Under MaxAttempts the job goes back to
// pending for retry; at the limit it parks as failed for diagnostics.
func (q *Queue) Fail(ctx context.Context, id int64, msg string) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE queue_jobs
SET attempts = attempts + 1,
    last_error = ?,
    state = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE 'pending' END,
    claimed_at = NULL
WHERE id = ?;`, msg, q.cfg.MaxAttempts, id)
	if err != nil {
		return fmt.Errorf("fail job=%d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fail job=%d: not found", id)
	}
	return nil
}

// PruneFailed trims parked failures beyond the retention cap, oldest first.
func (q *Queue) PruneFailed(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM queue_jobs
WHERE state = 'failed'
  AND id NOT IN (
    SELECT id FROM queue_jobs WHERE state = 'failed' ORDER BY id DESC LIMIT ?
  );`, q.cfg.KeepFailed)
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type Stats struct {
	Pending int `json:"pending"`
	Claimed int `json:"claimed"`
	Failed  int `json:"failed"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT state, COUNT(*) FROM queue_jobs GROUP BY state;`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return Stats{}, err
		}
		switch state {
		case "pending":
			s.Pending = n
		case "claimed":
			s.Claimed = n
		case "failed":
			s.Failed = n
		}
	}
	return s, rows.Err()
}
