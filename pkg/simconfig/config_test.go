package simconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "system.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, "nodes: 32\nppn: 4\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Nodes)
	assert.Equal(t, 4, cfg.PPN)
}

func TestLoadMissingNodesIsAnError(t *testing.T) {
	path := writeConfig(t, "ppn: 4\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadNonPositiveNodesIsAnError(t *testing.T) {
	path := writeConfig(t, "nodes: 0\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
