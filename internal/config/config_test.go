package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "production", cfg.Policy.DefaultAction)
	assert.Equal(t, 2.0, cfg.Policy.AccumulatedRisk.Threshold)
	assert.Contains(t, cfg.Taint.UntrustedPatterns, "resume")
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  transport: http
  http_addr: ":9000"
policy:
  default_action: production
  accumulated_risk_policies:
    threshold: 5.0
    action: shadow
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, 5.0, cfg.Policy.AccumulatedRisk.Threshold)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  transport: stdio\n"), 0o644))

	t.Setenv("CHIMERA_TRANSPORT", "http")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Server.Transport)
}

func TestLoad_RiskAccumulationEnabledDefaultsToTrue(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Policy.RiskAccumulation.IsEnabled())
}

func TestLoad_RiskAccumulationExplicitFalseSurvivesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
policy:
  risk_accumulation:
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Policy.RiskAccumulation.IsEnabled())
}

func TestLoad_BackendToolsSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
backend:
  tools:
    get_patient_record:
      category: sensitive
      description: fetches a patient record
    read_file:
      category: safe
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sensitive", cfg.Backend.Tools["get_patient_record"].Category)
	assert.Equal(t, "safe", cfg.Backend.Tools["read_file"].Category)
}
