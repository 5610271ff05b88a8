package bconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	return tmpHome
}

func TestLoad_Defaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Orchestrator.MaxCritiques)
	require.True(t, cfg.Orchestrator.StrictMode)
	require.Equal(t, int64(500), cfg.Delegation.WindowMS)
	require.Equal(t, 30, cfg.Concurrency.RateLimit)
	require.Equal(t, int64(3), cfg.Concurrency.KindCapacity["expensive"])
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	home := setupTestHome(t)
	configDir := filepath.Join(home, ".config", "bridgeorch")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	configPath := filepath.Join(configDir, "config.yaml")
	yamlContent := []byte("orchestrator:\n  max_critiques: 5\ndelegation:\n  window_ms: 750\n")
	require.NoError(t, os.WriteFile(configPath, yamlContent, 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Orchestrator.MaxCritiques)
	require.Equal(t, int64(750), cfg.Delegation.WindowMS)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	home := setupTestHome(t)
	configDir := filepath.Join(home, ".config", "bridgeorch")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("delegation:\n  window_ms: 750\n"), 0600))

	t.Setenv("BRIDGEORCH_DELEGATION_WINDOW_MS", "900")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Equal(t, int64(900), cfg.Delegation.WindowMS)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	home := setupTestHome(t)
	configDir := filepath.Join(home, ".config", "bridgeorch")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("orchestrator:\n  max_critiques: 5\n"), 0644))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	_, err := Load("/tmp/evil-config.yaml")
	require.Error(t, err)
}

func TestValidate_RejectsBadRateLimit(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Concurrency.RateLimit = 0
	require.Error(t, cfg.Validate())
}

func TestLoad_ExplicitFalseSurvivesDefaults(t *testing.T) {
	home := setupTestHome(t)
	configDir := filepath.Join(home, ".config", "bridgeorch")
	require.NoError(t, os.MkdirAll(configDir, 0700))

	configPath := filepath.Join(configDir, "config.yaml")
	yamlContent := []byte("orchestrator:\n  strict_mode: false\ndelegation:\n  strict: false\n")
	require.NoError(t, os.WriteFile(configPath, yamlContent, 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.False(t, cfg.Orchestrator.StrictMode)
	require.False(t, cfg.Delegation.Strict)
}
