package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/store"
)

// TokenSync stores newly issued push tokens in the caller's presence document
type TokenSync struct {
	store   store.RemoteStore
	session SessionProvider
}

// NewTokenSync creates a TokenSync
func NewTokenSync(remote store.RemoteStore, session SessionProvider) *TokenSync {
	return &TokenSync{store: remote, session: session}
}

// OnNewToken merges token into users/{id}. Without a session nothing is
// written and ErrNoSession is returned.
func (t *TokenSync) OnNewToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("push token is empty")
	}

	userID, ok := t.session.CurrentUserID()
	if !ok {
		observability.Warn("Push token refreshed without a session; not stored")
		return ErrNoSession
	}

	if err := t.store.Set(ctx, models.UserPath(userID), models.PushTokenUpdate(token), true); err != nil {
		observability.WithContext(ctx).WithField("user_id", userID).Errorf("Failed to store push token: %v", err)
		return fmt.Errorf("failed to store push token: %w", err)
	}

	observability.WithField("user_id", userID).Info("Push token updated")
	return nil
}
