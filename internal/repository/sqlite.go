package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// A single writer keeps UNIQUE violations deterministic instead of SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	-- Invitation codes handed out by users
	CREATE TABLE IF NOT EXISTS invitation_codes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		owner_user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		used_at DATETIME,
		used_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_invitation_codes_owner ON invitation_codes(owner_user_id);
	CREATE INDEX IF NOT EXISTS idx_invitation_codes_expires ON invitation_codes(expires_at);

	-- Tracking journal (agent restart recovery)
	CREATE TABLE IF NOT EXISTS tracking_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		intent TEXT NOT NULL,
		state TEXT NOT NULL,
		recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tracking_journal_device ON tracking_journal(device_id, id);
	`

	_, err := db.Exec(schema)
	return err
}
