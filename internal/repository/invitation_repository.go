package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/securetrack/server/internal/models"
)

// InvitationRepository implements invitation code data access for SQLite
type InvitationRepository struct {
	db DBTX
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db DBTX) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Add stores a newly issued invitation. A code clash yields ErrDuplicateCode.
func (r *InvitationRepository) Add(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitation_codes (id, code, owner_user_id, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, 0)
	`
	_, err := r.db.ExecContext(ctx, query,
		inv.ID,
		inv.Code,
		inv.OwnerUserID,
		inv.CreatedAt,
		inv.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

// GetByCode retrieves an invitation by its code
func (r *InvitationRepository) GetByCode(ctx context.Context, code string) (*models.Invitation, error) {
	query := `
		SELECT id, code, owner_user_id, created_at, expires_at, used, used_at, used_by
		FROM invitation_codes
		WHERE code = ?
	`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inv, err
}

// GetByOwner retrieves all invitations a user has issued, newest first
func (r *InvitationRepository) GetByOwner(ctx context.Context, ownerUserID string) ([]*models.Invitation, error) {
	query := `
		SELECT id, code, owner_user_id, created_at, expires_at, used, used_at, used_by
		FROM invitation_codes
		WHERE owner_user_id = ?
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// MarkUsed flags an unused invitation as redeemed. It reports false if the
// invitation was already used, so two redeemers cannot both win.
func (r *InvitationRepository) MarkUsed(ctx context.Context, id, usedBy string) (bool, error) {
	query := `
		UPDATE invitation_codes
		SET used = 1, used_at = ?, used_by = ?
		WHERE id = ? AND used = 0
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), usedBy, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// Release undoes a MarkUsed by usedBy, making the invitation redeemable again
func (r *InvitationRepository) Release(ctx context.Context, id, usedBy string) error {
	query := `
		UPDATE invitation_codes
		SET used = 0, used_at = NULL, used_by = NULL
		WHERE id = ? AND used_by = ?
	`
	_, err := r.db.ExecContext(ctx, query, id, usedBy)
	return err
}

// ExpireOld deletes invitations that have expired
func (r *InvitationRepository) ExpireOld(ctx context.Context) (int, error) {
	query := `DELETE FROM invitation_codes WHERE expires_at < ?`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	return int(rows), err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvitation(row rowScanner) (*models.Invitation, error) {
	inv := &models.Invitation{}
	var usedAt sql.NullTime
	var usedBy sql.NullString

	err := row.Scan(
		&inv.ID,
		&inv.Code,
		&inv.OwnerUserID,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&inv.Used,
		&usedAt,
		&usedBy,
	)
	if err != nil {
		return nil, err
	}

	if usedAt.Valid {
		t := usedAt.Time
		inv.UsedAt = &t
	}
	if usedBy.Valid {
		inv.UsedBy = usedBy.String
	}
	return inv, nil
}
