package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/migtype"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	cfg := config.Default()
	cfg.MigRoot = filepath.Join(t.TempDir(), "MigVisma")
	require.NoError(t, os.MkdirAll(cfg.MigRoot, 0o755))
	return New(cfg)
}

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
}

func TestDiscoverEligibility(t *testing.T) {
	r := newResolver(t)
	mkdirs(t,
		filepath.Join(r.Root, "ACME01", "PDOL"),
		filepath.Join(r.Root, "BETA02", "PDOL"),
		filepath.Join(r.Root, "NOTYPE03"),
		filepath.Join(r.Root, "OTHER04", "SDOL"),
		filepath.Join(r.Root, "DONE05_success_robot", "PDOL"),
		filepath.Join(r.Root, "BAD06_failed_robot", "PDOL"),
		filepath.Join(r.Root, "Templates", "PDOL"),
		filepath.Join(r.Root, "Transformations", "PDOL"),
	)
	// a plain file named like a customer is ignored
	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "FILE07"), nil, 0o644))
	// a file where the type folder should be does not count
	mkdirs(t, filepath.Join(r.Root, "FAKE08"))
	require.NoError(t, os.WriteFile(filepath.Join(r.Root, "FAKE08", "PDOL"), nil, 0o644))

	got, err := r.Discover(migtype.PDOL)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME01", "BETA02"}, got)

	got, err = r.Discover(migtype.SDOL)
	require.NoError(t, err)
	assert.Equal(t, []string{"OTHER04"}, got)
}

func TestEligibleExcludesRobotAndReserved(t *testing.T) {
	r := newResolver(t)
	for _, name := range []string{"X_robot_retry", "MappingFixedAllowances"} {
		mkdirs(t, filepath.Join(r.Root, name, "MLM"))
		assert.False(t, r.Eligible(name, migtype.MLM), name)
	}
}

func TestEnsureDirIdempotent(t *testing.T) {
	r := newResolver(t)
	mkdirs(t, r.MigDir("ACME01", migtype.SDOL))

	ensure := map[string]func() (string, error){
		"docs":  func() (string, error) { return r.EnsureDocsDir("ACME01", migtype.SDOL) },
		"log":   func() (string, error) { return r.EnsureLogDir("ACME01") },
		"index": func() (string, error) { return r.EnsureIndexDir("ACME01", migtype.SDOL) },
	}
	for name, fn := range ensure {
		t.Run(name, func(t *testing.T) {
			first, err := fn()
			require.NoError(t, err)
			second, err := fn()
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.DirExists(t, first)
		})
	}
}

func TestEnsureDirRejectsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "DOCS")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	_, err := EnsureDir(p)
	assert.Error(t, err)
}

func TestEnsureDirMissingParent(t *testing.T) {
	_, err := EnsureDir(filepath.Join(t.TempDir(), "missing", "DOCS"))
	assert.Error(t, err)
}

func TestReadPasswordFirstVariantWins(t *testing.T) {
	r := newResolver(t)
	dir := r.MigDir("ACME01", migtype.PDOL)
	mkdirs(t, dir)

	_, err := r.ReadPassword("ACME01", migtype.PDOL)
	require.ErrorIs(t, err, ErrPasswordNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "PW.txt.txt"), []byte("second\n"), 0o644))
	pw, err := r.ReadPassword("ACME01", migtype.PDOL)
	require.NoError(t, err)
	assert.Equal(t, "second", pw)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "PW.txt"), []byte("\ufefffirst\r\n"), 0o644))
	pw, err = r.ReadPassword("ACME01", migtype.PDOL)
	require.NoError(t, err)
	assert.Equal(t, "first", pw)
}

func TestTargetFromParameters(t *testing.T) {
	r := newResolver(t)
	mkdirs(t, r.CustomerDir("ACME01"))
	want := filepath.Join(r.Root, "ACME01", "PDOL", "PDOL_Migrated_100")
	writeParams(t, r.ParametersPath("ACME01"), map[string]string{
		"A1": "Name", "B1": "SourcePath", "C1": "TargetPath",
		"A2": "first", "B2": `D:\elsewhere`, "C2": `D:\archive\nothing`,
		"A3": "second", "B3": `D:\x`, "C3": want,
	})

	got, src, ok, err := r.TargetPath("ACME01", migtype.PDOL, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceParameters, src)
	assert.Equal(t, want, got)
}

func TestTargetPathFallsBackToScript(t *testing.T) {
	r := newResolver(t)
	mkdirs(t, r.CustomerDir("ACME01"))
	writeParams(t, r.ParametersPath("ACME01"), map[string]string{"A1": "Name", "A2": "x"})

	script := "chcp 65001\r\nif not exist \"C:\\MigVisma\\ACME01\\PDOL\\PDOL_Migrated_7\" mkdir \"C:\\MigVisma\\ACME01\\PDOL\\PDOL_Migrated_7\"\r\n"
	got, src, ok, err := r.TargetPath("ACME01", migtype.PDOL, script)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SourceScript, src)
	assert.Equal(t, `C:\MigVisma\ACME01\PDOL\PDOL_Migrated_7`, got)
}

func writeParams(t *testing.T, path string, cells map[string]string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for cell, v := range cells {
		require.NoError(t, f.SetCellValue("Sheet1", cell, v))
	}
	require.NoError(t, f.SaveAs(path))
}
