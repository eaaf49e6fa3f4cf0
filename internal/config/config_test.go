package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kipad.toml")
	body := `
listen_address = "127.0.0.1:9001"
max_neighbours = 12
handler = "random"
bootstrap_peers = ["203.0.113.5:7890"]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9001", cfg.ListenAddress)
	assert.Equal(t, 12, cfg.MaxNeighbours)
	assert.Equal(t, HandlerRandom, cfg.Handler)
	assert.Equal(t, []string{"203.0.113.5:7890"}, cfg.BootstrapPeers)
	// Unset fields keep their defaults.
	assert.Equal(t, 4, cfg.ReplySize)
}

func TestLoadRejectsUnknownHandler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kipad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`handler = "bogus"`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveMaxNeighbours(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kipad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`max_neighbours = 0`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/kipad.toml")
	assert.Error(t, err)
}
