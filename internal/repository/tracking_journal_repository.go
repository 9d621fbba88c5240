package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/securetrack/server/internal/models"
)

// TrackingJournalRepository implements tracking journal data access for SQLite
type TrackingJournalRepository struct {
	db DBTX
}

// NewTrackingJournalRepository creates a new tracking journal repository
func NewTrackingJournalRepository(db DBTX) *TrackingJournalRepository {
	return &TrackingJournalRepository{db: db}
}

// Record appends an entry and fills in its ID
func (r *TrackingJournalRepository) Record(ctx context.Context, entry *models.TrackingJournalEntry) error {
	query := `
		INSERT INTO tracking_journal (device_id, intent, state, recorded_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query, entry.DeviceID, string(entry.Intent), entry.State, entry.RecordedAt)
	if err != nil {
		return err
	}
	entry.ID, err = result.LastInsertId()
	return err
}

// Latest returns the most recent entry for a device, or nil if there is none
func (r *TrackingJournalRepository) Latest(ctx context.Context, deviceID string) (*models.TrackingJournalEntry, error) {
	query := `
		SELECT id, device_id, intent, state, recorded_at
		FROM tracking_journal
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	entry, err := scanJournalEntry(r.db.QueryRowContext(ctx, query, deviceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// History returns up to limit entries for a device, newest first
func (r *TrackingJournalRepository) History(ctx context.Context, deviceID string, limit int) ([]*models.TrackingJournalEntry, error) {
	query := `
		SELECT id, device_id, intent, state, recorded_at
		FROM tracking_journal
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJournalEntries(rows)
}

// PruneBefore deletes entries recorded before the cutoff
func (r *TrackingJournalRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tracking_journal WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	return int(rows), err
}

func scanJournalEntry(row rowScanner) (*models.TrackingJournalEntry, error) {
	entry := &models.TrackingJournalEntry{}
	var intent string
	if err := row.Scan(&entry.ID, &entry.DeviceID, &intent, &entry.State, &entry.RecordedAt); err != nil {
		return nil, err
	}
	entry.Intent = models.TrackingIntent(intent)
	return entry, nil
}

func scanJournalEntries(rows *sql.Rows) ([]*models.TrackingJournalEntry, error) {
	var entries []*models.TrackingJournalEntry
	for rows.Next() {
		entry, err := scanJournalEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
