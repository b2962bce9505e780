package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	config := NewConfig(path)
	require.NoError(t, config.Load())

	_, err := os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, "8087", config.Port)
	assert.Equal(t, "✅", config.ApproveMarker)
	assert.Equal(t, ChannelWhitelistRequest, config.ChannelID(ChannelWhitelistRequest))
}

func TestConfigAllowRevoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	config := NewConfig(path)
	require.NoError(t, config.Load())

	assert.False(t, config.IsAuthorizedClient("bot1"))

	require.NoError(t, config.Allow("bot1"))
	assert.True(t, config.IsAuthorizedClient("bot1"))

	// Allowing twice does not duplicate the entry.
	require.NoError(t, config.Allow("bot1"))

	// The change persists across a reload.
	reloaded := NewConfig(path)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.IsAuthorizedClient("bot1"))
	assert.Len(t, reloaded.AuthorizedClients, 1)

	require.NoError(t, config.Revoke("bot1"))
	assert.False(t, config.IsAuthorizedClient("bot1"))
}

func TestConfigAdminPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	config := NewConfig(path)
	require.NoError(t, config.Load())

	// The very first load, with no file on disk yet, seeds the default
	// password.
	assert.NotEmpty(t, config.AdminPasswordHash)
	assert.True(t, config.VerifyAdminPassword("admin"))
	assert.False(t, config.VerifyAdminPassword("wrong"))

	require.NoError(t, config.SetAdminPassword("hunter2"))
	assert.True(t, config.VerifyAdminPassword("hunter2"))
	assert.False(t, config.VerifyAdminPassword("admin"))

	// The hash, not the password, is what persists.
	reloaded := NewConfig(path)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.VerifyAdminPassword("hunter2"))
	assert.NotContains(t, reloaded.AdminPasswordHash, "hunter2")
}
