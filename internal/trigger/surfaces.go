package trigger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SurfaceMapping configures one trigger surface: whether it is enabled and
// the tenancy applied when the config service has no routing entry for a key.
type SurfaceMapping struct {
	Enabled         bool   `yaml:"enabled"`
	DefaultTenantID string `yaml:"defaultTenantId"`
	DefaultTeamID   string `yaml:"defaultTeamId"`

	// AutoProvision registers unknown routing keys with the config service
	// instead of rejecting the trigger.
	AutoProvision bool `yaml:"autoProvision"`
}

// SurfaceConfig is the parsed surfaces file.
type SurfaceConfig struct {
	Surfaces map[string]SurfaceMapping `yaml:"surfaces"`
}

// LoadSurfaceConfig parses a surface mapping YAML file. A missing path
// returns an empty config; every surface then uses dispatcher defaults.
func LoadSurfaceConfig(path string) (*SurfaceConfig, error) {
	if path == "" {
		return &SurfaceConfig{Surfaces: map[string]SurfaceMapping{}}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SurfaceConfig{Surfaces: map[string]SurfaceMapping{}}, nil
		}
		return nil, fmt.Errorf("read surface config: %w", err)
	}

	var cfg SurfaceConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse surface config: %w", err)
	}
	if cfg.Surfaces == nil {
		cfg.Surfaces = map[string]SurfaceMapping{}
	}
	return &cfg, nil
}

// Lookup returns the mapping for a surface. Unlisted surfaces are enabled
// with zero-value tenancy so dispatcher defaults apply.
func (c *SurfaceConfig) Lookup(surface string) SurfaceMapping {
	if m, ok := c.Surfaces[surface]; ok {
		return m
	}
	return SurfaceMapping{Enabled: true}
}
