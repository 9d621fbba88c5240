package services

import (
	"context"
	"testing"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrustedContactService(t *testing.T) {
	ctx := context.Background()

	newService := func(t *testing.T) (*TrustedContactService, *store.MemoryStore) {
		s := store.NewMemoryStore()
		seedUser(t, s, "alice", "Alice")
		seedUser(t, s, "bob", "Bob")
		seedUser(t, s, "carol", "Carol")
		return NewTrustedContactService(s), s
	}

	t.Run("add takes the name from the user document", func(t *testing.T) {
		svc, s := newService(t)
		link, err := svc.Add(ctx, "alice", "bob", "")
		require.NoError(t, err)
		assert.Equal(t, "Bob", link.DisplayName)

		snap, err := s.Get(ctx, models.TrustedContactPath("alice", "bob"))
		require.NoError(t, err)
		assert.True(t, snap.Exists)
		assert.Equal(t, "bob", snap.Data[models.FieldUID])
	})

	t.Run("add keeps an explicit name", func(t *testing.T) {
		svc, _ := newService(t)
		link, err := svc.Add(ctx, "alice", "bob", "Brother")
		require.NoError(t, err)
		assert.Equal(t, "Brother", link.DisplayName)
	})

	t.Run("add validates ids", func(t *testing.T) {
		svc, _ := newService(t)

		_, err := svc.Add(ctx, "alice", "alice", "")
		assert.ErrorIs(t, err, models.ErrSelfTrust)
		_, err = svc.Add(ctx, "alice", "", "")
		assert.ErrorIs(t, err, models.ErrEmptyContactID)
		_, err = svc.Add(ctx, "alice", "nobody", "")
		assert.ErrorIs(t, err, models.ErrUnknownUser)
	})

	t.Run("remove", func(t *testing.T) {
		svc, s := newService(t)
		_, err := svc.Add(ctx, "alice", "bob", "")
		require.NoError(t, err)

		require.NoError(t, svc.Remove(ctx, "alice", "bob"))
		snap, err := s.Get(ctx, models.TrustedContactPath("alice", "bob"))
		require.NoError(t, err)
		assert.False(t, snap.Exists)

		assert.ErrorIs(t, svc.Remove(ctx, "alice", "bob"), models.ErrContactNotFound)
		assert.ErrorIs(t, svc.Remove(ctx, "alice", "a/b"), models.ErrInvalidContactID)
	})

	t.Run("list is ordered by name", func(t *testing.T) {
		svc, _ := newService(t)
		_, err := svc.Add(ctx, "alice", "carol", "")
		require.NoError(t, err)
		_, err = svc.Add(ctx, "alice", "bob", "")
		require.NoError(t, err)

		links, err := svc.List(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, links, 2)
		assert.Equal(t, "bob", links[0].ContactUserID)
		assert.Equal(t, "carol", links[1].ContactUserID)

		empty, err := svc.List(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
