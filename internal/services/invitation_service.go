package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/repository"
)

const maxIssueAttempts = 5

// InvitationService issues and redeems invitation codes
type InvitationService struct {
	repo     repository.InvitationCodeRepo
	contacts *TrustedContactService
	ttl      time.Duration
	generate func() (models.InvitationCode, error)
}

// NewInvitationService creates an InvitationService. Codes live for ttl.
func NewInvitationService(repo repository.InvitationCodeRepo, contacts *TrustedContactService, ttl time.Duration) *InvitationService {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &InvitationService{
		repo:     repo,
		contacts: contacts,
		ttl:      ttl,
		generate: models.GenerateInvitationCode,
	}
}

// Generate returns a fresh random code without storing it
func (s *InvitationService) Generate() (models.InvitationCode, error) {
	return s.generate()
}

// GenerateMany returns n fresh codes
func (s *InvitationService) GenerateMany(n int) ([]models.InvitationCode, error) {
	if n < 0 {
		return nil, fmt.Errorf("code count must not be negative")
	}
	codes := make([]models.InvitationCode, 0, n)
	for i := 0; i < n; i++ {
		code, err := s.generate()
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// Issue stores a new code for owner, drawing again if the code is taken
func (s *InvitationService) Issue(ctx context.Context, ownerUserID string) (*models.Invitation, error) {
	if ownerUserID == "" {
		return nil, models.ErrEmptyOwnerID
	}

	ctx, span := observability.StartServiceSpan(ctx, "InvitationService", "Issue")
	defer span.End()

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		inv := models.NewInvitation(ownerUserID, code, s.ttl)
		err = s.repo.Add(ctx, inv)
		if errors.Is(err, repository.ErrDuplicateCode) {
			observability.WithField("attempt", attempt).Debug("Invitation code collision, retrying")
			continue
		}
		if err != nil {
			observability.RecordError(span, err)
			return nil, fmt.Errorf("failed to store invitation: %w", err)
		}

		observability.SetSuccess(span)
		observability.WithField("owner_user_id", ownerUserID).Info("Invitation issued")
		return inv, nil
	}

	observability.RecordError(span, models.ErrInvitationCollision)
	return nil, models.ErrInvitationCollision
}

// Redeem adds the code's owner as a trusted contact of redeemerUserID and
// uses up the code
func (s *InvitationService) Redeem(ctx context.Context, rawCode, redeemerUserID string) (*models.TrustedContactLink, error) {
	if redeemerUserID == "" {
		return nil, models.ErrEmptyOwnerID
	}
	code, err := models.ParseInvitationCode(rawCode)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartServiceSpan(ctx, "InvitationService", "Redeem")
	defer span.End()

	inv, err := s.repo.GetByCode(ctx, code.Value)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up invitation: %w", err)
	}
	switch {
	case inv == nil:
		return nil, models.ErrInvitationNotFound
	case inv.OwnerUserID == redeemerUserID:
		return nil, models.ErrOwnInvitation
	case inv.Used:
		return nil, models.ErrInvitationUsed
	case inv.IsExpired():
		return nil, models.ErrInvitationExpired
	}

	claimed, err := s.repo.MarkUsed(ctx, inv.ID, redeemerUserID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to claim invitation: %w", err)
	}
	if !claimed {
		return nil, models.ErrInvitationUsed
	}

	link, err := s.contacts.Add(ctx, redeemerUserID, inv.OwnerUserID, "")
	if err != nil {
		observability.RecordError(span, err)
		if relErr := s.repo.Release(ctx, inv.ID, redeemerUserID); relErr != nil {
			observability.WithContext(ctx).WithField("invitation_id", inv.ID).
				Errorf("Failed to release invitation after redeem error: %v", relErr)
		}
		return nil, err
	}

	observability.SetSuccess(span)
	return link, nil
}

// ListIssued returns the invitations owner has issued
func (s *InvitationService) ListIssued(ctx context.Context, ownerUserID string) ([]*models.Invitation, error) {
	return s.repo.GetByOwner(ctx, ownerUserID)
}

// PurgeExpired deletes expired invitations
func (s *InvitationService) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireOld(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.Infof("Purged %d expired invitations", n)
	}
	return n, nil
}
