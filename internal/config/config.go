package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultFileName = "stagehand.yaml"

// SecretsFileName is the production-only configuration file that is never
// synced, backed up, or overwritten.
const SecretsFileName = "wp-config.php"

// Config holds the resolved deployment settings. It is built once at startup
// and passed into every component; nothing mutates it afterwards.
type Config struct {
	StagePath string `yaml:"stage_path"`
	StageURL  string `yaml:"stage_url"`
	ProdPath  string `yaml:"prod_path"`
	ProdURL   string `yaml:"prod_url"`

	BackupDir  string `yaml:"backup_dir"`
	MaxBackups int    `yaml:"max_backups"`

	// PreservedTables keeps production-local tables (leads, form entries,
	// order logs) alive across the stage-overwrites-production replace.
	PreservedTables []string `yaml:"preserved_tables"`

	ProdTimezone   string `yaml:"prod_timezone"`
	ProdAdminEmail string `yaml:"prod_admin_email"`
}

// ResolvePath returns the config file path by checking the explicit flag
// value first, then STAGEHAND_CONFIG, then ./stagehand.yaml.
func ResolvePath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if envPath := os.Getenv("STAGEHAND_CONFIG"); envPath != "" {
		return envPath, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, defaultFileName), nil
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{MaxBackups: 5}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.StagePath = filepath.Clean(cfg.StagePath)
	cfg.ProdPath = filepath.Clean(cfg.ProdPath)
	if cfg.BackupDir != "" {
		cfg.BackupDir = filepath.Clean(cfg.BackupDir)
	}
	cfg.StageURL = NormalizeURL(cfg.StageURL)
	cfg.ProdURL = NormalizeURL(cfg.ProdURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structural invariants that must hold before any
// pipeline stage runs: both roots exist and look like application roots
// (they contain wp-config.php), URLs are set and distinct, the backup dir
// lies outside both roots, and the retention count is positive.
func (c *Config) Validate() error {
	for _, root := range []struct{ name, path string }{
		{"stage_path", c.StagePath},
		{"prod_path", c.ProdPath},
	} {
		if root.path == "" || root.path == "." {
			return fmt.Errorf("%s is required", root.name)
		}
		if _, err := os.Stat(root.path); err != nil {
			return fmt.Errorf("%s: %w", root.name, err)
		}
		if _, err := os.Stat(filepath.Join(root.path, SecretsFileName)); err != nil {
			return fmt.Errorf("%s does not look like a WordPress root (no %s)", root.name, SecretsFileName)
		}
	}

	if c.StageURL == "" || c.ProdURL == "" {
		return fmt.Errorf("stage_url and prod_url are required")
	}
	if c.StageURL == c.ProdURL {
		return fmt.Errorf("stage_url and prod_url must differ")
	}
	if c.BackupDir == "" {
		return fmt.Errorf("backup_dir is required")
	}
	// A backup dir inside a site root would itself be backed up and then
	// deleted by the mirror's --delete pass.
	if inTree(c.StagePath, c.BackupDir) || inTree(c.ProdPath, c.BackupDir) {
		return fmt.Errorf("backup_dir must lie outside stage_path and prod_path")
	}
	if c.MaxBackups < 1 {
		return fmt.Errorf("max_backups must be at least 1, got %d", c.MaxBackups)
	}
	return nil
}

// inTree reports whether path is dir itself or lexically inside it.
func inTree(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SecretsFile returns the path of the production wp-config.php.
func (c *Config) SecretsFile() string {
	return filepath.Join(c.ProdPath, SecretsFileName)
}

// NormalizeURL strips any scheme and trailing slash so the rewrite engine
// controls scheme handling itself.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			raw = u.Host + u.Path
		}
	}
	return strings.TrimRight(raw, "/")
}
