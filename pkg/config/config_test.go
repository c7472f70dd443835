package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigAllocationBounds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.Orchestrator.SimpleMaxWorkers)
	assert.Equal(t, 2, cfg.Orchestrator.MediumMinWorkers)
	assert.Equal(t, 4, cfg.Orchestrator.MediumMaxWorkers)
	assert.GreaterOrEqual(t, cfg.Orchestrator.ComplexMinWorkers, 10)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Cache.L1Capacity, cfg.Cache.L1Capacity)
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Cache.L1Capacity = 42
	require.NoError(t, SaveConfig(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Cache.L1Capacity)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, SaveConfig(path, DefaultConfig()))

	t.Setenv("CORTEXD_CACHE_L1_CAPACITY", "7")
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Cache.L1Capacity)
}

func TestResolvedDataDirExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "~/data"
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "data"), cfg.ResolvedDataDir())
}
