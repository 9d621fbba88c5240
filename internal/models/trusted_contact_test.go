package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrustedContactLink(t *testing.T) {
	t.Run("creates link with valid parameters", func(t *testing.T) {
		link, err := NewTrustedContactLink("alice", " bob ", " Bob ")

		require.NoError(t, err)
		assert.Equal(t, "alice", link.OwnerUserID)
		assert.Equal(t, "bob", link.ContactUserID)
		assert.Equal(t, "Bob", link.DisplayName)
		assert.WithinDuration(t, time.Now().UTC(), link.AddedAt, 5*time.Second)
		assert.Equal(t, "users/alice/trustedContacts/bob", link.Path())
	})

	t.Run("rejects self trust", func(t *testing.T) {
		_, err := NewTrustedContactLink("alice", "alice", "me")
		assert.ErrorIs(t, err, ErrSelfTrust)
	})

	t.Run("rejects empty ids", func(t *testing.T) {
		_, err := NewTrustedContactLink("", "bob", "")
		assert.ErrorIs(t, err, ErrEmptyOwnerID)

		_, err = NewTrustedContactLink("alice", "  ", "")
		assert.ErrorIs(t, err, ErrEmptyContactID)
	})

	t.Run("rejects path separators in contact id", func(t *testing.T) {
		_, err := NewTrustedContactLink("alice", "bob/trustedContacts", "")
		assert.ErrorIs(t, err, ErrInvalidContactID)
	})
}

func TestTrustedContactFromDocument(t *testing.T) {
	t.Run("prefers uid field", func(t *testing.T) {
		link := TrustedContactFromDocument("alice", "doc-id", map[string]interface{}{
			FieldUID:          "bob",
			FieldUserIDLegacy: "other",
			FieldName:         "Bob",
			FieldAddedAt:      int64(1714564800000),
		})

		require.NotNil(t, link)
		assert.Equal(t, "bob", link.ContactUserID)
		assert.Equal(t, "Bob", link.DisplayName)
		assert.Equal(t, int64(1714564800000), link.AddedAt.UnixMilli())
	})

	t.Run("falls back to legacy field then document id", func(t *testing.T) {
		link := TrustedContactFromDocument("alice", "doc-id", map[string]interface{}{FieldUserIDLegacy: "carol"})
		require.NotNil(t, link)
		assert.Equal(t, "carol", link.ContactUserID)

		link = TrustedContactFromDocument("alice", "dave", map[string]interface{}{})
		require.NotNil(t, link)
		assert.Equal(t, "dave", link.ContactUserID)
	})

	t.Run("drops links pointing at the owner", func(t *testing.T) {
		link := TrustedContactFromDocument("alice", "alice", map[string]interface{}{})
		assert.Nil(t, link)
	})
}
