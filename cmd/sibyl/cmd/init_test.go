package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibyl-search/sibyl/internal/config"
)

func TestInitWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sibyl.yaml")

	out, err := execute(t, "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	// The template must round-trip through the loader and match defaults.
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Retrieval, cfg.Retrieval)
	assert.Equal(t, config.Default().Timeouts, cfg.Timeouts)
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sibyl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	_, err := execute(t, "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "init", "--force", path)
	require.NoError(t, err)
}
