package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":5000", cfg.Server.Address)
		assert.Equal(t, 48*time.Hour, cfg.Invitations.TTL())
		assert.False(t, cfg.Store.UseFirestore())
		assert.False(t, cfg.UsePostgres())
		assert.False(t, cfg.FCM.Enabled())
		assert.Equal(t, 15*time.Second, cfg.Agent.WriteTimeout())
	})

	t.Run("file then environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"server": {"address": ":8080", "jwtSecret": "from-file"},
			"store": {"backend": "firestore", "projectId": "demo"},
			"invitations": {"ttlHours": 12}
		}`), 0o600))
		t.Setenv("CONFIG_PATH", path)
		t.Setenv("JWT_SECRET", "from-env")
		t.Setenv("AGENT_PERMISSIONS", "coarse, ")
		t.Setenv("AGENT_BELL", "1")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Address)
		assert.Equal(t, "from-env", cfg.Server.JWTSecret)
		assert.True(t, cfg.Store.UseFirestore())
		assert.Equal(t, 12*time.Hour, cfg.Invitations.TTL())
		assert.Equal(t, []string{"coarse"}, cfg.Agent.Permissions)
		assert.True(t, cfg.Agent.Bell)
	})

	t.Run("invalid settings", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))

		t.Setenv("STORE_BACKEND", "redis")
		_, err := Load()
		assert.Error(t, err)

		t.Setenv("STORE_BACKEND", "firestore")
		_, err = Load()
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		t.Setenv("CONFIG_PATH", path)

		_, err := Load()
		assert.Error(t, err)
	})
}
