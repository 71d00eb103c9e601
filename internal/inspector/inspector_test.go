package inspector

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/migtype"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestInspectDoesNotMutate(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.MigRoot = root
	cfg.PentahoDir = filepath.Join(root, "pentaho")

	cust := filepath.Join(root, "ACME01")
	write(t, filepath.Join(cust, "PDOL", "PW.txt"), "secret")
	write(t, filepath.Join(cust, "PDOL", "ACME01_ExportPersonnelFile_1.exe"), "sfx")
	write(t, filepath.Join(cust, "PDOL", "DOCS", "a.pdf"), "a")
	write(t, filepath.Join(cust, "PDOL", "DOCS", "sub", "b.pdf"), "b")
	write(t, filepath.Join(cust, "PDOL", "Counters.csv"), "PDOL_Migrated_100;4\nPDOL_Skipped;1\n")
	write(t, filepath.Join(cust, "out", "move.cmd"), "if not exist \"C:\\out\\E\" mkdir \"C:\\out\\E\"\nmove a b\nmove c d\n")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rep, err := Inspect(cfg, "ACME01", migtype.PDOL, logger)
	require.NoError(t, err)

	assert.True(t, rep.Eligible)
	assert.Error(t, rep.Precondition)
	assert.Equal(t, filepath.Join(cust, "PDOL", "PW.txt"), rep.PasswordFile)
	assert.Len(t, rep.Archives, 1)
	assert.Len(t, rep.CmdFiles, 1)
	assert.Equal(t, 2, rep.MoveRows)
	assert.Equal(t, 2, rep.DocsFiles)
	assert.Equal(t, 4, rep.Counters.Total())
	assert.Equal(t, `C:\out\E`, rep.Target)

	for _, p := range rep.Paths {
		if p.Name == "log" || p.Name == "index" {
			assert.False(t, p.Exists, p.Name)
		}
	}
	assert.NoDirExists(t, filepath.Join(cust, "Log"))

	var out bytes.Buffer
	rep.Write(&out)
	assert.Contains(t, out.String(), "Inspection of ACME01 (PDOL)")
	assert.Contains(t, out.String(), "PDOL_Migrated_100")
	assert.Contains(t, out.String(), "FAILED")
}

func TestInspectMissingCustomer(t *testing.T) {
	cfg := config.Default()
	cfg.MigRoot = t.TempDir()
	rep, err := Inspect(cfg, "NOPE", migtype.MLM, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.False(t, rep.Eligible)
	assert.Empty(t, rep.CmdFiles)
	assert.Equal(t, "", rep.PasswordFile)
}
