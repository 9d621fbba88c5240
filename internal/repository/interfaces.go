package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/securetrack/server/internal/models"
)

// DBTX is the subset of *sql.DB the repositories use. observability.TraceDB
// satisfies it too.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ErrDuplicateCode is returned by Add when the code is already taken
var ErrDuplicateCode = errors.New("invitation code already exists")

// InvitationCodeRepo defines persistence for issued invitation codes
type InvitationCodeRepo interface {
	Add(ctx context.Context, inv *models.Invitation) error
	GetByCode(ctx context.Context, code string) (*models.Invitation, error)
	GetByOwner(ctx context.Context, ownerUserID string) ([]*models.Invitation, error)
	MarkUsed(ctx context.Context, id, usedBy string) (bool, error)
	Release(ctx context.Context, id, usedBy string) error
	ExpireOld(ctx context.Context) (int, error)
}

// TrackingJournalRepo defines persistence for the tracking journal
type TrackingJournalRepo interface {
	Record(ctx context.Context, entry *models.TrackingJournalEntry) error
	Latest(ctx context.Context, deviceID string) (*models.TrackingJournalEntry, error)
	History(ctx context.Context, deviceID string, limit int) ([]*models.TrackingJournalEntry, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// isUniqueViolation recognizes UNIQUE constraint failures from either driver
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
