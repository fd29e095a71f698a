package syncer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/stagehand-sh/stagehand/internal/config"
	"github.com/stagehand-sh/stagehand/internal/execx"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		StagePath:  t.TempDir(),
		ProdPath:   t.TempDir(),
		StageURL:   "stage.example.com",
		ProdURL:    "example.com",
		BackupDir:  t.TempDir(),
		MaxBackups: 5,
	}
	for _, root := range []string{cfg.StagePath, cfg.ProdPath} {
		if err := os.WriteFile(filepath.Join(root, config.SecretsFileName), []byte("<?php // "+root), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func TestRsyncArgs(t *testing.T) {
	cfg := testConfig(t)
	args := rsyncArgs(cfg)

	joined := strings.Join(args, " ")
	for _, want := range []string{"-az", "--delete", "--checksum", "--exclude=wp-config.php", "--exclude=.git", "--exclude=wp-content/cache"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}

	// Source has the trailing separator (content sync), destination does not.
	src, dst := args[len(args)-2], args[len(args)-1]
	if !strings.HasSuffix(src, string(os.PathSeparator)) {
		t.Errorf("source = %q, want trailing separator", src)
	}
	if dst != cfg.ProdPath {
		t.Errorf("dest = %q, want %q", dst, cfg.ProdPath)
	}
}

func TestSyncPreservesSecretsFile(t *testing.T) {
	cfg := testConfig(t)
	origSecrets := "<?php // " + cfg.ProdPath

	// The fake rsync clobbers the prod secrets file, as a mirror without
	// the exclusion would.
	runner := &execx.Fake{
		Respond: func(name string, args []string) (execx.Result, error) {
			if err := os.WriteFile(cfg.SecretsFile(), []byte("stage secrets"), 0o644); err != nil {
				t.Fatal(err)
			}
			return execx.Result{}, nil
		},
	}

	s := New(cfg, runner, zap.NewNop())
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := os.ReadFile(cfg.SecretsFile())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != origSecrets {
		t.Errorf("secrets = %q, want original preserved", got)
	}
	info, _ := os.Stat(cfg.SecretsFile())
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets mode = %v, want 0600", info.Mode().Perm())
	}

	if calls := runner.CallsTo("rsync"); len(calls) != 1 {
		t.Errorf("rsync called %d times, want 1", len(calls))
	}
}

func TestSyncFailsWithoutSecretsFile(t *testing.T) {
	cfg := testConfig(t)
	if err := os.Remove(cfg.SecretsFile()); err != nil {
		t.Fatal(err)
	}

	s := New(cfg, &execx.Fake{}, zap.NewNop())
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("Sync succeeded without a secrets file")
	}
}

func TestNormalizePermissions(t *testing.T) {
	cfg := testConfig(t)

	paths := map[string]os.FileMode{
		"index.php":                     0o777,
		"wp-content/themes/s/style.css": 0o600,
		"wp-content/uploads/2026/a.jpg": 0o600,
	}
	for rel, mode := range paths {
		p := filepath.Join(cfg.ProdPath, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), mode); err != nil {
			t.Fatal(err)
		}
	}

	s := New(cfg, &execx.Fake{}, zap.NewNop())
	if err := s.NormalizePermissions(context.Background()); err != nil {
		t.Fatalf("NormalizePermissions: %v", err)
	}

	checks := map[string]os.FileMode{
		"index.php":                     0o644,
		"wp-content":                    0o755,
		"wp-content/themes/s/style.css": 0o644,
		"wp-content/uploads":            0o775,
		"wp-content/uploads/2026":       0o775,
		"wp-content/uploads/2026/a.jpg": 0o664,
		config.SecretsFileName:          0o600,
	}
	for rel, want := range checks {
		info, err := os.Stat(filepath.Join(cfg.ProdPath, filepath.FromSlash(rel)))
		if err != nil {
			t.Errorf("stat %s: %v", rel, err)
			continue
		}
		if info.Mode().Perm() != want {
			t.Errorf("%s mode = %o, want %o", rel, info.Mode().Perm(), want)
		}
	}
}

func TestClearCaches(t *testing.T) {
	cfg := testConfig(t)

	cache := filepath.Join(cfg.ProdPath, "wp-content", "cache")
	if err := os.MkdirAll(filepath.Join(cache, "page"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cache, "page", "home.html"), []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(cfg, &execx.Fake{}, zap.NewNop())
	cleared := s.ClearCaches()

	if len(cleared) != 1 || cleared[0] != "wp-content/cache" {
		t.Errorf("cleared = %v", cleared)
	}
	entries, err := os.ReadDir(cache)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("cache dir has %d entries after clear", len(entries))
	}
}
