package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Tenant.ID != "acme" {
		t.Fatalf("tenant id %q", cfg.Tenant.ID)
	}
	if cfg.Scoring.HighBand != 70 || cfg.Scoring.MediumBand != 40 || cfg.Scoring.DriverAffectedMin != 60 {
		t.Fatalf("unexpected scoring bands: %+v", cfg.Scoring)
	}
	if cfg.Rules.EmergencyHighPct != 15 || cfg.Rules.HotspotAvgRisk != 70 || cfg.Rules.MaxActions != 5 {
		t.Fatalf("unexpected rules: %+v", cfg.Rules)
	}
	if !cfg.Dedupe() {
		t.Fatalf("dedupe should default on")
	}
}

func TestDedupeUnsetDefaultsTrue(t *testing.T) {
	var cfg Config
	if !cfg.Dedupe() {
		t.Fatalf("nil dedupe should read true")
	}
	off := false
	cfg.Generation.Dedupe = &off
	if cfg.Dedupe() {
		t.Fatalf("explicit false ignored")
	}
}

func TestValidateRejectsBadBands(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Tenant.ID = "" },
		func(c *Config) { c.Scoring.HighBand = 0 },
		func(c *Config) { c.Scoring.HighBand = 120 },
		func(c *Config) { c.Scoring.MediumBand = c.Scoring.HighBand },
		func(c *Config) { c.Rules.MaxActions = 0 },
		func(c *Config) { c.Generation.OwnerRole = "" },
	}
	for i, mutate := range cases {
		cfg := Default("acme")
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("acme")))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.Tenant.ID != "acme" {
		t.Fatalf("tenant id %q", cfg.Tenant.ID)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file should be nil,nil: %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "retainline.yml"), []byte(GenerateDefault("acme")), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg == nil || cfg.Tenant.ID != "acme" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
