package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"allotment-engine/internal/domain"
)

var ErrIPONotFound = errors.New("ipo not found")

// LookupIPO is the read-only metadata collaborator: given an IPO id,
// return its canonical company name and registrar.
func LookupIPO(ctx context.Context, db *sql.DB, ipoID int64) (domain.IPO, error) {
	var ipo domain.IPO
	var listing sql.NullString
	var out int

	err := db.QueryRowContext(ctx, `
SELECT id, company_name, registrar_name, client_id, listing_date, allotment_out
FROM ipos
WHERE id = ?;`, ipoID).Scan(&ipo.ID, &ipo.CompanyName, &ipo.RegistrarName, &ipo.ClientID, &listing, &out)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IPO{}, ErrIPONotFound
	}
	if err != nil {
		return domain.IPO{}, fmt.Errorf("lookup ipo %d: %w", ipoID, err)
	}

	if listing.Valid && listing.String != "" {
		if t, err := time.Parse(time.RFC3339, listing.String); err == nil {
			ipo.ListingDate = &t
		}
	}
	ipo.AllotmentOut = out != 0
	return ipo, nil
}

// SeedIPO loads or refreshes one IPO lookup record. This is the manual
// load surface behind /admin/ipos; normal resolution never writes here.
func SeedIPO(ctx context.Context, db *sql.DB, ipo domain.IPO) error {
	var listing any
	if ipo.ListingDate != nil {
		listing = ipo.ListingDate.UTC().Format(time.RFC3339)
	}
	out := 0
	if ipo.AllotmentOut {
		out = 1
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO ipos(id, company_name, registrar_name, client_id, listing_date, allotment_out)
VALUES(?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  company_name = excluded.company_name,
  registrar_name = excluded.registrar_name,
  client_id = excluded.client_id,
  listing_date = excluded.listing_date,
  allotment_out = excluded.allotment_out;`,
		ipo.ID, ipo.CompanyName, ipo.RegistrarName, ipo.ClientID, listing, out,
	)
	if err != nil {
		return fmt.Errorf("seed ipo %d: %w", ipo.ID, err)
	}
	return nil
}

// SweepableIPOs returns ids of IPOs listed within the trailing window or
// flagged as having allotment results out.
func SweepableIPOs(ctx context.Context, db *sql.DB, windowDays int) ([]int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format(time.RFC3339)

	rows, err := db.QueryContext(ctx, `
SELECT id FROM ipos
WHERE allotment_out = 1 OR (listing_date IS NOT NULL AND listing_date >= ?);`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweepable ipos: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
