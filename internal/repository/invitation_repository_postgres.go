package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/securetrack/server/internal/models"
)

// InvitationRepositoryPostgres implements invitation code data access for PostgreSQL
type InvitationRepositoryPostgres struct {
	db DBTX
}

// NewInvitationRepositoryPostgres creates a new PostgreSQL invitation repository
func NewInvitationRepositoryPostgres(db DBTX) *InvitationRepositoryPostgres {
	return &InvitationRepositoryPostgres{db: db}
}

func (r *InvitationRepositoryPostgres) Add(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitation_codes (id, code, owner_user_id, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)
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

func (r *InvitationRepositoryPostgres) GetByCode(ctx context.Context, code string) (*models.Invitation, error) {
	query := `
		SELECT id, code, owner_user_id, created_at, expires_at, used, used_at, used_by
		FROM invitation_codes
		WHERE code = $1
	`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return inv, err
}

func (r *InvitationRepositoryPostgres) GetByOwner(ctx context.Context, ownerUserID string) ([]*models.Invitation, error) {
	query := `
		SELECT id, code, owner_user_id, created_at, expires_at, used, used_at, used_by
		FROM invitation_codes
		WHERE owner_user_id = $1
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

func (r *InvitationRepositoryPostgres) MarkUsed(ctx context.Context, id, usedBy string) (bool, error) {
	query := `
		UPDATE invitation_codes
		SET used = TRUE, used_at = $1, used_by = $2
		WHERE id = $3 AND used = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, time.Now().UTC(), usedBy, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *InvitationRepositoryPostgres) Release(ctx context.Context, id, usedBy string) error {
	query := `
		UPDATE invitation_codes
		SET used = FALSE, used_at = NULL, used_by = NULL
		WHERE id = $1 AND used_by = $2
	`
	_, err := r.db.ExecContext(ctx, query, id, usedBy)
	return err
}

func (r *InvitationRepositoryPostgres) ExpireOld(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM invitation_codes WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	return int(rows), err
}
