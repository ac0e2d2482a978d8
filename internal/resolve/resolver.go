// Package resolve is the request-facing orchestrator: it answers from the
// result cache when it can, marks rows in-flight and enqueues scrape jobs
// when it can't, and never blocks a caller on scrape completion.
package resolve

import (
	"context"
	"database/sql"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"allotment-engine/internal/domain"
	"allotment-engine/internal/store"
)

// Enqueuer is the slice of the queue the resolver needs; the real sqlite
// queue and in-memory test doubles both satisfy it.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, jobs []domain.Job) error
}

type Resolver struct {
	DB    *sql.DB
	Queue Enqueuer

	// Now is swappable so freshness math is testable.
	Now func() time.Time
}

func New(db *sql.DB, q Enqueuer) *Resolver {
	return &Resolver{DB: db, Queue: q, Now: time.Now}
}

type Detail struct {
	PAN     string        `json:"pan"`
	Status  domain.Status `json:"status"`
	Units   int           `json:"units"`
	Message string        `json:"message,omitempty"`
}

type Summary struct {
	Allotted    int `json:"allotted"`
	NotAllotted int `json:"notAllotted"`
	Checking    int `json:"checking"`
	Error       int `json:"error"`
}

type Report struct {
	Summary Summary  `json:"summary"`
	Details []Detail `json:"details"`
}

// Resolve returns the best-known status for every PAN and queues
// background work for anything missing, stale, or stuck. Every requested
// PAN gets a status in the report; the only error returns are structural
// (IPO missing, store unreachable on the batch read).
func (r *Resolver) Resolve(ctx context.Context, ipoID int64, pans []string) (Report, error) {
	ipo, err := store.LookupIPO(ctx, r.DB, ipoID)
	if err != nil {
		return Report{}, err
	}

	pans = dedupe(pans)
	now := r.Now().UTC()

	existing, err := store.GetResults(ctx, r.DB, ipoID, pans)
	if err != nil {
		// Without the batch read we cannot classify anything; report every
		// PAN as ERROR rather than enqueueing jobs we can't track.
		log.Printf("[resolve] ipo=%d batch read failed: %v", ipoID, err)
		var rep Report
		for _, pan := range pans {
			rep.add(Detail{PAN: pan, Status: domain.StatusError, Message: "result store unavailable"})
		}
		return rep, nil
	}

	var rep Report
	var needsWork []string
	for _, pan := range pans {
		row, ok := existing[pan]
		switch {
		case ok && row.Status.Terminal() && row.Fresh(now):
			rep.add(Detail{PAN: pan, Status: row.Status, Units: row.Units, Message: row.Message})
		case ok && row.Status == domain.StatusInFlight && row.Fresh(now):
			// A worker is (believed to be) on it; don't pile on.
			rep.add(Detail{PAN: pan, Status: domain.StatusInFlight, Message: row.Message})
		default:
			// Absent, stale terminal, or abandoned in-flight.
			needsWork = append(needsWork, pan)
		}
	}

	if len(needsWork) > 0 {
		rep.merge(r.markAndEnqueue(ctx, ipo, needsWork))
	}
	return rep, nil
}

// Requeue runs the mark-then-enqueue path for PANs known to need work,
// without freshness checks. The sweeper uses it to re-issue exactly what
// a request would.
func (r *Resolver) Requeue(ctx context.Context, ipo domain.IPO, pans []string) Report {
	return r.markAndEnqueue(ctx, ipo, dedupe(pans))
}

// markAndEnqueue writes the IN_FLIGHT marker for each PAN, then enqueues
// jobs for the PANs whose markers landed. The ordering is deliberate:
// marker first, so a fast worker's terminal write can never be clobbered
// back to IN_FLIGHT by a slow marker arriving after it.
func (r *Resolver) markAndEnqueue(ctx context.Context, ipo domain.IPO, pans []string) Report {
	type marked struct {
		pan string
		err error
	}
	results := make([]marked, len(pans))

	var g errgroup.Group
	g.SetLimit(8)
	for i, pan := range pans {
		i, pan := i, pan
		g.Go(func() error {
			_, err := store.UpsertInFlight(ctx, r.DB, ipo.ID, pan)
			results[i] = marked{pan: pan, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var rep Report
	var jobs []domain.Job
	var queued []string
	for _, m := range results {
		if m.err != nil {
			log.Printf("[resolve] ipo=%d pan=%s marker write failed: %v", ipo.ID, m.pan, m.err)
			rep.add(Detail{PAN: m.pan, Status: domain.StatusError, Message: "could not start resolution"})
			continue
		}
		jobs = append(jobs, domain.Job{
			IPOID:         ipo.ID,
			CompanyName:   ipo.CompanyName,
			PAN:           m.pan,
			RegistrarHint: ipo.RegistrarName,
			ClientID:      ipo.ClientID,
		})
		queued = append(queued, m.pan)
	}

	if len(jobs) > 0 {
		if err := r.Queue.EnqueueBatch(ctx, jobs); err != nil {
			// Rows stay IN_FLIGHT and will re-queue once the 60s staleness
			// window lapses; report the failure so callers aren't left with
			// a marker that means nothing is running.
			log.Printf("[resolve] ipo=%d enqueue of %d jobs failed: %v", ipo.ID, len(jobs), err)
			for _, pan := range queued {
				rep.add(Detail{PAN: pan, Status: domain.StatusError, Message: "could not queue resolution"})
			}
			return rep
		}
		for _, pan := range queued {
			rep.add(Detail{PAN: pan, Status: domain.StatusInFlight, Message: "resolution in progress"})
		}
	}
	return rep
}

func (rep *Report) add(d Detail) {
	rep.Details = append(rep.Details, d)
	switch d.Status {
	case domain.StatusAllotted:
		rep.Summary.Allotted++
	case domain.StatusNotAllotted, domain.StatusNotApplied:
		rep.Summary.NotAllotted++
	case domain.StatusError:
		rep.Summary.Error++
	default: // IN_FLIGHT and UNKNOWN are both "still checking"
		rep.Summary.Checking++
	}
}

func (rep *Report) merge(other Report) {
	for _, d := range other.Details {
		rep.add(d)
	}
}

func dedupe(pans []string) []string {
	seen := make(map[string]bool, len(pans))
	out := make([]string, 0, len(pans))
	for _, p := range pans {
		n := domain.NormalizePAN(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
