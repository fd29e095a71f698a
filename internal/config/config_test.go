package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWordPressRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SecretsFileName), []byte("<?php"), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stagehand.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	stage := writeWordPressRoot(t)
	prod := writeWordPressRoot(t)
	backups := t.TempDir()

	path := writeConfig(t, `
stage_path: `+stage+`
stage_url: https://stage.example.com/
prod_path: `+prod+`
prod_url: example.com
backup_dir: `+backups+`
max_backups: 7
preserved_tables:
  - wp_leads
  - wp_orders
prod_timezone: Europe/Athens
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StageURL != "stage.example.com" {
		t.Errorf("StageURL = %q, want scheme and slash stripped", cfg.StageURL)
	}
	if cfg.ProdURL != "example.com" {
		t.Errorf("ProdURL = %q", cfg.ProdURL)
	}
	if cfg.MaxBackups != 7 {
		t.Errorf("MaxBackups = %d, want 7", cfg.MaxBackups)
	}
	if len(cfg.PreservedTables) != 2 || cfg.PreservedTables[0] != "wp_leads" {
		t.Errorf("PreservedTables = %v", cfg.PreservedTables)
	}
}

func TestLoadDefaultsMaxBackups(t *testing.T) {
	stage := writeWordPressRoot(t)
	prod := writeWordPressRoot(t)

	path := writeConfig(t, `
stage_path: `+stage+`
stage_url: stage.example.com
prod_path: `+prod+`
prod_url: example.com
backup_dir: `+t.TempDir()+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxBackups != 5 {
		t.Errorf("MaxBackups = %d, want default 5", cfg.MaxBackups)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	stage := writeWordPressRoot(t)
	prod := writeWordPressRoot(t)
	noWP := t.TempDir()

	base := func() *Config {
		return &Config{
			StagePath:  stage,
			StageURL:   "stage.example.com",
			ProdPath:   prod,
			ProdURL:    "example.com",
			BackupDir:  t.TempDir(),
			MaxBackups: 5,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing stage path", func(c *Config) { c.StagePath = filepath.Join(stage, "nope") }},
		{"prod root without wp-config", func(c *Config) { c.ProdPath = noWP }},
		{"identical urls", func(c *Config) { c.StageURL = "example.com" }},
		{"empty prod url", func(c *Config) { c.ProdURL = "" }},
		{"zero retention", func(c *Config) { c.MaxBackups = 0 }},
		{"empty backup dir", func(c *Config) { c.BackupDir = "" }},
		{"backup dir inside prod root", func(c *Config) { c.BackupDir = filepath.Join(prod, "backups") }},
		{"backup dir is the stage root", func(c *Config) { c.BackupDir = stage }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://stage.example.com/", "stage.example.com"},
		{"http://stage.example.com", "stage.example.com"},
		{"stage.example.com/", "stage.example.com"},
		{"https://example.com/blog/", "example.com/blog"},
		{"  example.com ", "example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
