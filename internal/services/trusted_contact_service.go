package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/store"
)

// TrustedContactService manages a user's trusted-contact links
type TrustedContactService struct {
	store store.RemoteStore
}

// NewTrustedContactService creates a TrustedContactService
func NewTrustedContactService(remote store.RemoteStore) *TrustedContactService {
	return &TrustedContactService{store: remote}
}

// Add trusts contactUserID on behalf of owner. An empty displayName is
// taken from the contact's user document. Re-adding replaces the link.
func (s *TrustedContactService) Add(ctx context.Context, ownerUserID, contactUserID, displayName string) (*models.TrustedContactLink, error) {
	link, err := models.NewTrustedContactLink(ownerUserID, contactUserID, displayName)
	if err != nil {
		return nil, err
	}

	snap, err := s.store.Get(ctx, models.UserPath(link.ContactUserID))
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	if !snap.Exists {
		return nil, models.ErrUnknownUser
	}
	if link.DisplayName == "" {
		link.DisplayName = models.PresenceFromDocument(link.ContactUserID, snap.Data).DisplayName
	}

	if err := s.store.Set(ctx, link.Path(), link.ToDocument(), false); err != nil {
		return nil, fmt.Errorf("failed to save trusted contact: %w", err)
	}

	observability.WithFields(map[string]interface{}{
		"owner_user_id": link.OwnerUserID,
		"contact_id":    link.ContactUserID,
	}).Info("Trusted contact added")
	return link, nil
}

// Remove deletes the link from owner to contactUserID
func (s *TrustedContactService) Remove(ctx context.Context, ownerUserID, contactUserID string) error {
	if ownerUserID == "" {
		return models.ErrEmptyOwnerID
	}
	if contactUserID == "" {
		return models.ErrEmptyContactID
	}

	path := models.TrustedContactPath(ownerUserID, contactUserID)
	snap, err := s.store.Get(ctx, path)
	if err != nil {
		if err == store.ErrInvalidPath {
			return models.ErrInvalidContactID
		}
		return fmt.Errorf("failed to load trusted contact: %w", err)
	}
	if !snap.Exists {
		return models.ErrContactNotFound
	}

	if err := s.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("failed to remove trusted contact: %w", err)
	}

	observability.WithFields(map[string]interface{}{
		"owner_user_id": ownerUserID,
		"contact_id":    contactUserID,
	}).Info("Trusted contact removed")
	return nil
}

// List returns the owner's trusted contacts ordered by display name
func (s *TrustedContactService) List(ctx context.Context, ownerUserID string) ([]*models.TrustedContactLink, error) {
	if ownerUserID == "" {
		return nil, models.ErrEmptyOwnerID
	}

	col, err := s.store.List(ctx, models.TrustedContactsPath(ownerUserID))
	if err != nil {
		return nil, fmt.Errorf("failed to list trusted contacts: %w", err)
	}

	links := make([]*models.TrustedContactLink, 0, len(col.Documents))
	for _, doc := range col.Documents {
		if link := models.TrustedContactFromDocument(ownerUserID, doc.ID, doc.Data); link != nil {
			links = append(links, link)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].DisplayName != links[j].DisplayName {
			return links[i].DisplayName < links[j].DisplayName
		}
		return links[i].ContactUserID < links[j].ContactUserID
	})
	return links, nil
}
