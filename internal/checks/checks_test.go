package checks

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/layout"
	"github.com/brensch/migrobot/internal/migtype"
)

type fixture struct {
	cfg     config.Config
	checker *Checker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.PentahoDir = filepath.Join(base, "pentaho")
	cfg.MigRoot = filepath.Join(base, "MigVisma")

	touch(t, filepath.Join(cfg.PentahoDir, cfg.KitchenScript))
	touch(t, filepath.Join(cfg.MigRoot, cfg.LauncherScript))
	touch(t, filepath.Join(cfg.MigRoot, "ACME01", cfg.PropertiesFile))
	touch(t, filepath.Join(cfg.MigRoot, "ACME01", cfg.ParametersFile))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.MigRoot, "ACME01", "PDOL"), 0o755))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{cfg: cfg, checker: New(cfg, layout.New(cfg), logger)}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestRunAllPass(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.checker.Run("ACME01", migtype.PDOL))
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(t *testing.T, cfg config.Config)
		customer string
		kind     migtype.Kind
		check    string
		failure  FailureKind
	}{
		{
			name:     "missing pentaho",
			mutate:   func(t *testing.T, cfg config.Config) { require.NoError(t, os.RemoveAll(cfg.PentahoDir)) },
			customer: "ACME01", kind: migtype.PDOL,
			check: "external tool installation", failure: NotFound,
		},
		{
			name: "kitchen missing",
			mutate: func(t *testing.T, cfg config.Config) {
				require.NoError(t, os.Remove(filepath.Join(cfg.PentahoDir, cfg.KitchenScript)))
			},
			customer: "ACME01", kind: migtype.PDOL,
			check: "kitchen script", failure: NotFound,
		},
		{
			name: "launcher missing from migration root",
			mutate: func(t *testing.T, cfg config.Config) {
				require.NoError(t, os.Remove(filepath.Join(cfg.MigRoot, cfg.LauncherScript)))
				touch(t, filepath.Join(cfg.PentahoDir, cfg.LauncherScript))
			},
			customer: "ACME01", kind: migtype.PDOL,
			check: "launcher script", failure: NotFound,
		},
		{
			name:     "customer missing",
			mutate:   func(t *testing.T, cfg config.Config) {},
			customer: "NOPE", kind: migtype.PDOL,
			check: "customer directory", failure: NotFound,
		},
		{
			name: "customer is a file",
			mutate: func(t *testing.T, cfg config.Config) {
				touch(t, filepath.Join(cfg.MigRoot, "FILE"))
			},
			customer: "FILE", kind: migtype.PDOL,
			check: "customer directory", failure: NotADirectory,
		},
		{
			name: "reserved",
			mutate: func(t *testing.T, cfg config.Config) {
				require.NoError(t, os.MkdirAll(filepath.Join(cfg.MigRoot, "Templates", "PDOL"), 0o755))
			},
			customer: "Templates", kind: migtype.PDOL,
			check: "not reserved", failure: Reserved,
		},
		{
			name: "properties missing",
			mutate: func(t *testing.T, cfg config.Config) {
				require.NoError(t, os.Remove(filepath.Join(cfg.MigRoot, "ACME01", cfg.PropertiesFile)))
			},
			customer: "ACME01", kind: migtype.PDOL,
			check: "properties file", failure: NotFound,
		},
		{
			name: "parameters missing",
			mutate: func(t *testing.T, cfg config.Config) {
				require.NoError(t, os.Remove(filepath.Join(cfg.MigRoot, "ACME01", cfg.ParametersFile)))
			},
			customer: "ACME01", kind: migtype.PDOL,
			check: "parameters file", failure: NotFound,
		},
		{
			name:     "type folder missing",
			mutate:   func(t *testing.T, cfg config.Config) {},
			customer: "ACME01", kind: migtype.SDOL,
			check: "migration type directory", failure: NotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.mutate(t, f.cfg)

			err := f.checker.Run(tt.customer, tt.kind)
			require.Error(t, err)
			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.check, ce.Check)
			assert.Equal(t, tt.failure, ce.Kind)
		})
	}
}
