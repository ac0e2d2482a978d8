// Package worker drains the scrape queue. Each worker claims a job,
// routes it to the registrar capability for the job's hint, and writes
// the outcome through the store's atomic upsert. Workers never coordinate
// with each other; the upsert is the only synchronization.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"allotment-engine/internal/domain"
	"allotment-engine/internal/events"
	"allotment-engine/internal/queue"
	"allotment-engine/internal/registrar"
	"allotment-engine/internal/store"
)

// DefaultConcurrency is deliberately higher than browser-automation
// norms: the heavy lifting happens on the registrar's side, workers
// mostly wait on the network.
const DefaultConcurrency = 25

// jobTimeout bounds one scrape attempt; it stays under the queue's claim
// lease so a slow job fails before it is re-delivered elsewhere.
const jobTimeout = 90 * time.Second

const idleSleep = 2 * time.Second

type Pool struct {
	DB          *sql.DB
	Queue       *queue.Queue
	Router      *registrar.Router
	Hub         *events.Hub
	Concurrency int
}

// Run blocks until ctx is cancelled, keeping Concurrency claim loops
// running.
func (p *Pool) Run(ctx context.Context) error {
	n := p.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	log.Printf("[worker] pool starting workers=%d", n)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error {
			p.loop(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		c, err := p.Queue.Claim(ctx)
		if errors.Is(err, queue.ErrEmpty) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}
		if err != nil {
			log.Printf("[worker:%d] claim failed: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		jctx, cancel := context.WithTimeout(ctx, jobTimeout)
		perr := p.process(jctx, c)
		cancel()

		if perr != nil {
			log.Printf("[worker:%d] job=%d ipo=%d pan=%s attempt=%d failed: %v",
				id, c.ID, c.Job.IPOID, c.Job.PAN, c.Attempts+1, perr)
			if err := p.Queue.Fail(ctx, c.ID, perr.Error()); err != nil {
				log.Printf("[worker:%d] job=%d fail bookkeeping: %v", id, c.ID, err)
			}
			continue
		}

		if err := p.Queue.Done(ctx, c.ID); err != nil {
			// Job will be re-delivered after its lease; the re-run is
			// idempotent, so this only costs a duplicate scrape.
			log.Printf("[worker:%d] job=%d done bookkeeping: %v", id, c.ID, err)
		}
	}
}

// process runs one scrape and records its outcome. On capability failure
// the ERROR outcome is written BEFORE the error propagates to the queue's
// retry policy, so polling clients stop waiting even while retries
// continue.
func (p *Pool) process(ctx context.Context, c queue.Claimed) error {
	j := c.Job
	scraper := p.Router.Route(j.RegistrarHint)
	if scraper == nil {
		err := fmt.Errorf("no capability for registrar %q", j.RegistrarHint)
		p.recordError(ctx, j, err)
		return err
	}

	statuses, err := scraper.CheckStatus(ctx, j.CompanyName, j.ClientID, []string{j.PAN})
	if err != nil {
		p.recordError(ctx, j, err)
		return fmt.Errorf("%s check: %w", scraper.Name(), err)
	}

	st, ok := pickPAN(statuses, j.PAN)
	if !ok {
		err := fmt.Errorf("%s returned no entry for pan", scraper.Name())
		p.recordError(ctx, j, err)
		return err
	}

	// The outcome carries the job's own IPO id; the capability has no
	// notion of internal identifiers.
	if _, err := store.UpsertOutcome(ctx, p.DB, j.IPOID, j.PAN, st.Status, st.Units, st.Message); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	log.Printf("[worker] ipo=%d pan=%s status=%s units=%d via=%s",
		j.IPOID, j.PAN, st.Status, st.Units, scraper.Name())
	p.publish(j, st.Status)
	return nil
}

// pickPAN takes the entry for the job's PAN. A single entry is expected;
// matching defensively keeps a confused capability from writing another
// applicant's result.
func pickPAN(statuses []registrar.PANStatus, pan string) (registrar.PANStatus, bool) {
	want := domain.NormalizePAN(pan)
	for _, s := range statuses {
		if domain.NormalizePAN(s.PAN) == want {
			return s, true
		}
	}
	if len(statuses) == 1 && statuses[0].PAN == "" {
		return statuses[0], true
	}
	return registrar.PANStatus{}, false
}

func (p *Pool) recordError(ctx context.Context, j domain.Job, cause error) {
	// The job context is usually already dead when the scrape timed
	// out; the ERROR row still has to land so clients stop waiting.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := store.UpsertOutcome(wctx, p.DB, j.IPOID, j.PAN, domain.StatusError, 0, cause.Error()); err != nil {
		log.Printf("[worker] ipo=%d pan=%s could not record error: %v", j.IPOID, j.PAN, err)
		return
	}
	p.publish(j, domain.StatusError)
}

func (p *Pool) publish(j domain.Job, status domain.Status) {
	if p.Hub == nil {
		return
	}
	p.Hub.Publish(events.MakeEvent("", events.TypeResultUpdated, 1, map[string]any{
		"ipoId":  j.IPOID,
		"pan":    j.PAN,
		"status": status,
	}))
}
