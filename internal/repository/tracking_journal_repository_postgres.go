package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/securetrack/server/internal/models"
)

// TrackingJournalRepositoryPostgres implements tracking journal data access for PostgreSQL
type TrackingJournalRepositoryPostgres struct {
	db DBTX
}

// NewTrackingJournalRepositoryPostgres creates a new PostgreSQL tracking journal repository
func NewTrackingJournalRepositoryPostgres(db DBTX) *TrackingJournalRepositoryPostgres {
	return &TrackingJournalRepositoryPostgres{db: db}
}

func (r *TrackingJournalRepositoryPostgres) Record(ctx context.Context, entry *models.TrackingJournalEntry) error {
	query := `
		INSERT INTO tracking_journal (device_id, intent, state, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query, entry.DeviceID, string(entry.Intent), entry.State, entry.RecordedAt).Scan(&entry.ID)
}

func (r *TrackingJournalRepositoryPostgres) Latest(ctx context.Context, deviceID string) (*models.TrackingJournalEntry, error) {
	query := `
		SELECT id, device_id, intent, state, recorded_at
		FROM tracking_journal
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT 1
	`
	entry, err := scanJournalEntry(r.db.QueryRowContext(ctx, query, deviceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func (r *TrackingJournalRepositoryPostgres) History(ctx context.Context, deviceID string, limit int) ([]*models.TrackingJournalEntry, error) {
	query := `
		SELECT id, device_id, intent, state, recorded_at
		FROM tracking_journal
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJournalEntries(rows)
}

func (r *TrackingJournalRepositoryPostgres) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tracking_journal WHERE recorded_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	return int(rows), err
}
