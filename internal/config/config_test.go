package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, []string{"Templates", "Transformations", "MappingFixedAllowances"}, cfg.ReservedDirs)
	assert.Equal(t, []string{"PW.txt", "PW.txt.txt"}, cfg.PasswordFiles)
	assert.Equal(t, 1, cfg.Reconcile.RowsPerMove)
	assert.Equal(t, 2, cfg.ExtraArtifactsFor("PDOL"))
	assert.Equal(t, 0, cfg.ExtraArtifactsFor("MLM"))
	assert.Equal(t, 10, cfg.Reconcile.MLMLossTolerance)
	assert.Equal(t, Retry{Attempts: 10, Delay: time.Second}, cfg.Rename.CustomerRoot)
	assert.Equal(t, 3, cfg.DossierRetry("PDOL").Attempts)
	assert.Equal(t, 5, cfg.DossierRetry("SDOL").Attempts)
	assert.Equal(t, "robot_files", cfg.SFTPFolder(true))
	assert.Equal(t, "robot_test_files", cfg.SFTPFolder(false))
	assert.Equal(t, `D:\MigVisma`, cfg.MigRoot)
	assert.Equal(t, `C:\Pentaho\data-integration`, cfg.PentahoDir)
}

func TestLauncherPath(t *testing.T) {
	root := t.TempDir()
	cfg := Config{MigRoot: root, LauncherScript: DefaultLauncherScript}
	assert.Equal(t, filepath.Join(root, DefaultLauncherScript), cfg.LauncherPath())

	abs := filepath.Join(t.TempDir(), "tools", "launch.bat")
	cfg.LauncherScript = abs
	assert.Equal(t, abs, cfg.LauncherPath())
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "migrobot.yaml")
	content := `
mig_root: /data/migvisma
reconcile:
  rows_per_move: 2
extraction:
  poll_retries: 3
  poll_interval: 250ms
sftp:
  host: sftp.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/migvisma", cfg.MigRoot)
	assert.Equal(t, 2, cfg.Reconcile.RowsPerMove)
	assert.Equal(t, 3, cfg.Extraction.PollRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Extraction.PollInterval)
	assert.Equal(t, "sftp.example.com", cfg.SFTP.Host)
	// untouched values keep their defaults
	assert.Equal(t, DefaultLauncherScript, cfg.LauncherScript)
	assert.Equal(t, 10, cfg.Reconcile.MLMLossTolerance)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("MIGROBOT_MIG_ROOT", "/env/root")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/root", cfg.MigRoot)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestDossierRetryFallback(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, Retry{Attempts: 3, Delay: 500 * time.Millisecond}, cfg.DossierRetry("PDOL"))
}
