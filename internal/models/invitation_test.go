package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInvitationCode(t *testing.T) {
	t.Run("produces codes from the fixed alphabet", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			code, err := GenerateInvitationCode()
			require.NoError(t, err)
			assert.Len(t, code.Value, InvitationCodeLength)
			for _, r := range code.Value {
				assert.True(t, strings.ContainsRune(InvitationAlphabet, r), "unexpected rune %q", r)
			}
		}
	})

	t.Run("uses the whole alphabet", func(t *testing.T) {
		seen := make(map[rune]bool)
		for i := 0; i < 500; i++ {
			code, err := GenerateInvitationCode()
			require.NoError(t, err)
			for _, r := range code.Value {
				seen[r] = true
			}
		}
		assert.Len(t, seen, len(InvitationAlphabet))
	})
}

func TestParseInvitationCode(t *testing.T) {
	code, err := ParseInvitationCode("  ab12cd34 ")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", code.String())

	invalid := []string{"", "ABC", "AB12CD345", "AB12CD3!", "AB12-D34"}
	for _, raw := range invalid {
		_, err := ParseInvitationCode(raw)
		assert.ErrorIs(t, err, ErrInvalidInvitationCode, "input %q", raw)
	}
}

func TestInvitation(t *testing.T) {
	code, err := GenerateInvitationCode()
	require.NoError(t, err)

	inv := NewInvitation("alice", code, time.Hour)
	assert.NotEmpty(t, inv.ID)
	assert.True(t, inv.IsValid())

	inv.MarkUsed("bob")
	assert.False(t, inv.IsValid())
	assert.Equal(t, "bob", inv.UsedBy)
	require.NotNil(t, inv.UsedAt)

	expired := NewInvitation("alice", code, -time.Minute)
	assert.True(t, expired.IsExpired())
	assert.False(t, expired.IsValid())
}

func TestAlarmReplyFromMap(t *testing.T) {
	reply := AlarmReplyFromMap(map[string]interface{}{"success": true, "messageId": "m1"})
	assert.True(t, reply.Success)
	assert.Equal(t, "m1", reply.MessageID)

	reply = AlarmReplyFromMap(map[string]interface{}{"success": false, "error": "offline"})
	assert.False(t, reply.Success)
	assert.Equal(t, "offline", reply.Error)

	assert.True(t, IsAlarmPush(map[string]string{"action": "RING_ALARM"}))
	assert.False(t, IsAlarmPush(map[string]string{"action": "OTHER"}))
	assert.False(t, AlarmRequest{TargetUserID: "  "}.Valid())
}
