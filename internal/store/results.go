package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"allotment-engine/internal/domain"
)

// GetResults reads every stored row for (ipoID, pans) in one batch.
// Absent PANs are simply missing from the returned map.
func GetResults(ctx context.Context, db *sql.DB, ipoID int64, pans []string) (map[string]domain.Result, error) {
	out := make(map[string]domain.Result, len(pans))
	if len(pans) == 0 {
		return out, nil
	}

	ph := make([]string, 0, len(pans))
	args := make([]any, 0, len(pans)+1)
	args = append(args, ipoID)
	for _, p := range pans {
		ph = append(ph, "?")
		args = append(args, domain.NormalizePAN(p))
	}

	query := fmt.Sprintf(`
SELECT ipo_id, pan, status, units, message, last_checked
FROM allotment_results
WHERE ipo_id = ? AND pan IN (%s);`, strings.Join(ph, ","))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.Result
		var status, checked string
		if err := rows.Scan(&r.IPOID, &r.PAN, &status, &r.Units, &r.Message, &checked); err != nil {
			return nil, err
		}
		r.Status = domain.Status(status)
		r.LastChecked, _ = time.Parse(time.RFC3339, checked)
		out[r.PAN] = r
	}
	return out, rows.Err()
}

// UpsertInFlight atomically creates-or-overwrites the row for (ipoID, pan)
// with the IN_FLIGHT marker. The ON CONFLICT clause against the unique
// (ipo_id, pan) index makes this a single conditional write, so two
// concurrent callers can never produce duplicate rows.
func UpsertInFlight(ctx context.Context, db *sql.DB, ipoID int64, pan string) (domain.Result, error) {
	return upsert(ctx, db, domain.Result{
		IPOID:   ipoID,
		PAN:     domain.NormalizePAN(pan),
		Status:  domain.StatusInFlight,
		Message: "resolution in progress",
	})
}

// UpsertOutcome atomically writes a worker outcome for (ipoID, pan).
// Re-running the same outcome is harmless: last write wins.
func UpsertOutcome(ctx context.Context, db *sql.DB, ipoID int64, pan string, status domain.Status, units int, message string) (domain.Result, error) {
	if units < 0 {
		units = 0
	}
	return upsert(ctx, db, domain.Result{
		IPOID:   ipoID,
		PAN:     domain.NormalizePAN(pan),
		Status:  status,
		Units:   units,
		Message: message,
	})
}

func upsert(ctx context.Context, db *sql.DB, r domain.Result) (domain.Result, error) {
	r.LastChecked = time.Now().UTC()

	_, err := db.ExecContext(ctx, `
INSERT INTO allotment_results(ipo_id, pan, status, units, message, last_checked)
VALUES(?,?,?,?,?,?)
ON CONFLICT(ipo_id, pan) DO UPDATE SET
  status = excluded.status,
  units = excluded.units,
  message = excluded.message,
  last_checked = excluded.last_checked;`,
		r.IPOID, r.PAN, string(r.Status), r.Units, r.Message, r.LastChecked.Format(time.RFC3339),
	)
	if err != nil {
		return domain.Result{}, fmt.Errorf("upsert result ipo=%d pan=%s: %w", r.IPOID, r.PAN, err)
	}
	return r, nil
}

// StaleResults returns the ERROR/UNKNOWN rows for the given IPOs, the
// sweeper's re-queue candidates.
func StaleResults(ctx context.Context, db *sql.DB, ipoIDs []int64) ([]domain.Result, error) {
	if len(ipoIDs) == 0 {
		return nil, nil
	}

	ph := make([]string, 0, len(ipoIDs))
	args := make([]any, 0, len(ipoIDs))
	for _, id := range ipoIDs {
		ph = append(ph, "?")
		args = append(args, id)
	}

	query := fmt.Sprintf(`
SELECT ipo_id, pan, status, units, message, last_checked
FROM allotment_results
WHERE status IN ('ERROR','UNKNOWN') AND ipo_id IN (%s);`, strings.Join(ph, ","))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stale results: %w", err)
	}
	defer rows.Close()

	var out []domain.Result
	for rows.Next() {
		var r domain.Result
		var status, checked string
		if err := rows.Scan(&r.IPOID, &r.PAN, &status, &r.Units, &r.Message, &checked); err != nil {
			return nil, err
		}
		r.Status = domain.Status(status)
		r.LastChecked, _ = time.Parse(time.RFC3339, checked)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResultCounts tallies stored rows per status for the /status endpoint.
func ResultCounts(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM allotment_results GROUP BY status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
