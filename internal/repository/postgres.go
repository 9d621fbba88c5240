package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS invitation_codes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		owner_user_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMP NOT NULL,
		used BOOLEAN NOT NULL DEFAULT FALSE,
		used_at TIMESTAMP,
		used_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_invitation_codes_owner ON invitation_codes(owner_user_id);
	CREATE INDEX IF NOT EXISTS idx_invitation_codes_expires ON invitation_codes(expires_at);

	CREATE TABLE IF NOT EXISTS tracking_journal (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL,
		intent TEXT NOT NULL,
		state TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_tracking_journal_device ON tracking_journal(device_id, id);
	`

	_, err := db.Exec(schema)
	return err
}
