package services

import (
	"context"
	"testing"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSync_OnNewToken(t *testing.T) {
	ctx := context.Background()

	t.Run("merges token into the presence document", func(t *testing.T) {
		s := store.NewMemoryStore()
		seedUser(t, s, "alice", "Alice")

		require.NoError(t, NewTokenSync(s, NewStaticSession("alice", "")).OnNewToken(ctx, " tok-1 "))

		snap, err := s.Get(ctx, models.UserPath("alice"))
		require.NoError(t, err)
		assert.Equal(t, "tok-1", snap.Data[models.FieldPushToken])
		assert.Equal(t, "Alice", snap.Data[models.FieldName])
	})

	t.Run("no session writes nothing", func(t *testing.T) {
		s := store.NewMemoryStore()
		err := NewTokenSync(s, NewStaticSession("", "")).OnNewToken(ctx, "tok-1")
		assert.ErrorIs(t, err, ErrNoSession)

		snap, err := s.Get(ctx, models.UserPath("alice"))
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("empty token is refused", func(t *testing.T) {
		err := NewTokenSync(store.NewMemoryStore(), NewStaticSession("alice", "")).OnNewToken(ctx, "  ")
		assert.Error(t, err)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		s := newFlakyStore()
		s.failWrites(errBoom)
		err := NewTokenSync(s, NewStaticSession("alice", "")).OnNewToken(ctx, "tok-1")
		assert.ErrorIs(t, err, errBoom)
	})
}
