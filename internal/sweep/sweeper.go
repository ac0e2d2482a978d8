// Package sweep retries previously inconclusive results without waiting
// for a client to ask again. It runs on a fixed interval, independent of
// request traffic.
package sweep

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"allotment-engine/internal/domain"
	"allotment-engine/internal/events"
	"allotment-engine/internal/resolve"
	"allotment-engine/internal/store"
)

const DefaultWindowDays = 7

type Sweeper struct {
	DB       *sql.DB
	Resolver *resolve.Resolver
	Hub      *events.Hub

	// WindowDays is the trailing listing-date window; IPOs flagged as
	// having allotment results out are swept regardless of age.
	WindowDays int
}

// RunOnce re-queues every ERROR/UNKNOWN row belonging to an in-window
// IPO, through the same mark-then-enqueue path a request would use.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	window := s.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}

	ipoIDs, err := store.SweepableIPOs(ctx, s.DB, window)
	if err != nil {
		return fmt.Errorf("sweep scope: %w", err)
	}
	if len(ipoIDs) == 0 {
		return nil
	}

	stale, err := store.StaleResults(ctx, s.DB, ipoIDs)
	if err != nil {
		return fmt.Errorf("sweep select: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	byIPO := make(map[int64][]string)
	for _, r := range stale {
		byIPO[r.IPOID] = append(byIPO[r.IPOID], r.PAN)
	}

	requeued := 0
	for ipoID, pans := range byIPO {
		ipo, err := store.LookupIPO(ctx, s.DB, ipoID)
		if err != nil {
			// Result rows can outlive their IPO record; skip, don't abort
			// the whole sweep.
			log.Printf("[sweep] ipo=%d lookup failed: %v", ipoID, err)
			continue
		}
		rep := s.Resolver.Requeue(ctx, ipo, pans)
		requeued += rep.Summary.Checking
	}

	log.Printf("[sweep] ipos=%d stale=%d requeued=%d", len(byIPO), len(stale), requeued)
	if s.Hub != nil {
		s.Hub.Publish(events.MakeEvent("", events.TypeSweepCompleted, 1, map[string]any{
			"stale":    len(stale),
			"requeued": requeued,
		}))
	}
	return nil
}

// PANsInScope exists for the /status endpoint: how much unresolved work
// the next sweep would pick up.
func (s *Sweeper) PANsInScope(ctx context.Context) (int, error) {
	window := s.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	ipoIDs, err := store.SweepableIPOs(ctx, s.DB, window)
	if err != nil {
		return 0, err
	}
	stale, err := store.StaleResults(ctx, s.DB, ipoIDs)
	if err != nil {
		return 0, err
	}
	var n int
	for _, r := range stale {
		if r.Status == domain.StatusError || r.Status == domain.StatusUnknown {
			n++
		}
	}
	return n, nil
}
