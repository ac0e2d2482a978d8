package store

import "database/sql"

func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}

	if v >= 1 {
		return tx.Commit()
	}

	// ---- Schema v1: tables ----

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS ipos (
  id INTEGER PRIMARY KEY,
  company_name TEXT NOT NULL,
  registrar_name TEXT NOT NULL,
  client_id TEXT NOT NULL DEFAULT '',
  listing_date TEXT,
  allotment_out INTEGER NOT NULL DEFAULT 0
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS allotment_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ipo_id INTEGER NOT NULL,
  pan TEXT NOT NULL,
  status TEXT NOT NULL,
  units INTEGER NOT NULL DEFAULT 0,
  message TEXT NOT NULL DEFAULT '',
  last_checked TEXT NOT NULL
);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS queue_jobs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ipo_id INTEGER NOT NULL,
  pan TEXT NOT NULL,
  company TEXT NOT NULL,
  registrar_hint TEXT NOT NULL DEFAULT '',
  client_id TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  enqueued_at TEXT NOT NULL,
  claimed_at TEXT
);
`); err != nil {
		return err
	}

	// ---- Schema v1: indexes ----

	// The single-row-per-pair invariant for the whole engine.
	if _, err := tx.Exec(`
CREATE UNIQUE INDEX IF NOT EXISTS idx_results_ipo_pan
ON allotment_results(ipo_id, pan);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_results_status
ON allotment_results(status);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_queue_state
ON queue_jobs(state, id);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_ipos_listing_date
ON ipos(listing_date);
`); err != nil {
		return err
	}

	if _, err := tx.Exec(`PRAGMA user_version = 1;`); err != nil {
		return err
	}

	return tx.Commit()
}
