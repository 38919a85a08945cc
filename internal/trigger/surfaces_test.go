package trigger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSurfaceConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "surfaces.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
surfaces:
  slack:
    enabled: true
    defaultTenantId: acme
    defaultTeamId: sre
    autoProvision: true
  teams:
    enabled: false
`), 0o644))

	cfg, err := LoadSurfaceConfig(path)
	require.NoError(t, err)

	slack := cfg.Lookup("slack")
	assert.True(t, slack.Enabled)
	assert.True(t, slack.AutoProvision)
	assert.Equal(t, "acme", slack.DefaultTenantID)
	assert.Equal(t, "sre", slack.DefaultTeamID)

	teams := cfg.Lookup("teams")
	assert.False(t, teams.Enabled)

	// Unlisted surfaces default to enabled with no tenancy overrides.
	other := cfg.Lookup("pagerduty")
	assert.True(t, other.Enabled)
	assert.Empty(t, other.DefaultTenantID)
}

func TestLoadSurfaceConfigMissingFile(t *testing.T) {
	cfg, err := LoadSurfaceConfig("/nonexistent/surfaces.yaml")
	require.NoError(t, err)
	assert.True(t, cfg.Lookup("slack").Enabled)
}

func TestLoadSurfaceConfigEmptyPath(t *testing.T) {
	cfg, err := LoadSurfaceConfig("")
	require.NoError(t, err)
	assert.NotNil(t, cfg.Surfaces)
}

func TestLoadSurfaceConfigRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "surfaces.yaml")
	require.NoError(t, os.WriteFile(path, []byte("surfaces: [not a map"), 0o644))

	_, err := LoadSurfaceConfig(path)
	assert.Error(t, err)
}
