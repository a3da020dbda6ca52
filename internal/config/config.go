package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models retainline.yml.
type Config struct {
	Tenant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"tenant"`
	Scoring struct {
		HighBand          float64 `yaml:"high_band"`
		MediumBand        float64 `yaml:"medium_band"`
		DriverAffectedMin float64 `yaml:"driver_affected_min"`
	} `yaml:"scoring"`
	Rules struct {
		EmergencyHighPct float64 `yaml:"emergency_high_pct"`
		HotspotAvgRisk   float64 `yaml:"hotspot_avg_risk"`
		MaxActions       int     `yaml:"max_actions"`
	} `yaml:"rules"`
	Generation struct {
		OwnerRole string `yaml:"owner_role"`
		Module    string `yaml:"module"`
		Dedupe    *bool  `yaml:"dedupe"`
	} `yaml:"generation"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl tenant init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tenant.ID == "" {
		return fmt.Errorf("config.tenant.id is required")
	}
	if c.Scoring.HighBand <= 0 || c.Scoring.HighBand > 100 {
		return fmt.Errorf("config.scoring.high_band must be in (0,100]")
	}
	if c.Scoring.MediumBand <= 0 || c.Scoring.MediumBand >= c.Scoring.HighBand {
		return fmt.Errorf("config.scoring.medium_band must be in (0, high_band)")
	}
	if c.Scoring.DriverAffectedMin < 0 || c.Scoring.DriverAffectedMin > 100 {
		return fmt.Errorf("config.scoring.driver_affected_min must be in [0,100]")
	}
	if c.Rules.EmergencyHighPct < 0 || c.Rules.EmergencyHighPct > 100 {
		return fmt.Errorf("config.rules.emergency_high_pct must be in [0,100]")
	}
	if c.Rules.HotspotAvgRisk < 0 || c.Rules.HotspotAvgRisk > 100 {
		return fmt.Errorf("config.rules.hotspot_avg_risk must be in [0,100]")
	}
	if c.Rules.MaxActions <= 0 {
		return fmt.Errorf("config.rules.max_actions must be positive")
	}
	if c.Generation.OwnerRole == "" {
		return fmt.Errorf("config.generation.owner_role is required")
	}
	if c.Generation.Module == "" {
		return fmt.Errorf("config.generation.module is required")
	}
	return nil
}

// Dedupe reports whether generated tasks carry an idempotency key.
// Defaults to true when unset.
func (c *Config) Dedupe() bool {
	if c.Generation.Dedupe == nil {
		return true
	}
	return *c.Generation.Dedupe
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "retainline.yml")
}

// Default returns the default Config struct for a tenant.
func Default(tenantID string) *Config {
	var cfg Config
	cfg.Tenant.ID = tenantID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, tenantID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(tenantID string) string {
	return fmt.Sprintf(defaultTemplate, tenantID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tenant:
  id: %s
  name: ""

scoring:
  # Per-employee risk bands: high >= high_band, medium >= medium_band.
  high_band: 70
  medium_band: 40
  # A driver counts an employee as affected at or above this score.
  driver_affected_min: 60

rules:
  # Emergency review fires when the high-risk share exceeds this percentage.
  emergency_high_pct: 15
  # Department intervention fires per department above this average risk.
  hotspot_avg_risk: 70
  max_actions: 5

generation:
  owner_role: hr_manager
  module: retention
  dedupe: true
`
