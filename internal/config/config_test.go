package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "58 * * * *", cfg.Refresh)
	require.NotNil(t, cfg.StartupRefresh)
	assert.True(t, *cfg.StartupRefresh)

	info, err := os.Stat(path)
	require.NoError(t, err, "first run writes the default file")
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 0.0.0.0:9999\nrender:\n  width: 800\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.Listen)
	assert.Equal(t, 800, cfg.Render.Width)
	// Everything unset falls back to defaults.
	assert.Equal(t, "58 * * * *", cfg.Refresh)
	assert.Equal(t, 540, cfg.Render.Height)
	assert.Equal(t, 4, cfg.Fetch.Parallelism)
	assert.Equal(t, "/etc/epdash/users.json", cfg.Users)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:7070"
	off := false
	cfg.StartupRefresh = &off
	cfg.Fetch.Parallelism = 8
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", loaded.Listen)
	assert.Equal(t, 8, loaded.Fetch.Parallelism)
	require.NotNil(t, loaded.StartupRefresh)
	assert.False(t, *loaded.StartupRefresh)
}

func TestSaveValidation(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
	_, err := Load("")
	assert.Error(t, err)
}
