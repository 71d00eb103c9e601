package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/migrobot/internal/util"
)

type fakeProc struct {
	once   sync.Once
	done   chan struct{}
	killed bool
	out    util.Output
	err    error
}

func newFakeProc() *fakeProc { return &fakeProc{done: make(chan struct{})} }

func (p *fakeProc) finish(out util.Output, err error) {
	p.once.Do(func() {
		p.out, p.err = out, err
		close(p.done)
	})
}

func (p *fakeProc) Wait() (util.Output, error) {
	<-p.done
	return p.out, p.err
}

func (p *fakeProc) Kill() error {
	p.once.Do(func() {
		p.killed = true
		p.err = errors.New("signal: killed")
		close(p.done)
	})
	return nil
}

// fakeExec hands every started command to behave, which decides what the
// "process" does.
type fakeExec struct {
	mu     sync.Mutex
	calls  [][]string
	procs  []*fakeProc
	behave func(p *fakeProc, name string, args []string)
}

func (f *fakeExec) Start(_ context.Context, _ string, name string, args ...string) (util.Process, error) {
	p := newFakeProc()
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.procs = append(f.procs, p)
	f.mu.Unlock()
	go f.behave(p, name, args)
	return p, nil
}

func (f *fakeExec) Run(ctx context.Context, dir, name string, args ...string) (util.Output, error) {
	p, err := f.Start(ctx, dir, name, args...)
	if err != nil {
		return util.Output{}, err
	}
	return p.Wait()
}

func outDir(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "-o") {
			return strings.TrimPrefix(a, "-o")
		}
	}
	return ""
}

func newHandler(exec util.Executor) *Handler {
	return &Handler{
		SevenZip:     "7z",
		PollInterval: 5 * time.Millisecond,
		PollRetries:  4,
		exec:         exec,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestExtractSFXAllFiles(t *testing.T) {
	dest := t.TempDir()
	fx := &fakeExec{behave: func(p *fakeProc, name string, args []string) {
		_ = os.WriteFile(filepath.Join(outDir(args), filepath.Base(name)+".pdf"), []byte("payload"), 0o644)
		p.finish(util.Output{}, nil)
	}}
	h := newHandler(fx)

	files := []string{"/in/a_ExportPersonnelFile_1.exe", "/in/a_ExportPersonnelFile_2.exe"}
	require.NoError(t, h.ExtractSFX(context.Background(), files, dest, "s3cret"))

	require.Len(t, fx.calls, 2)
	assert.Equal(t, []string{files[0], "-y", "-gm2", "-r", "-ps3cret", "-o" + dest}, fx.calls[0])
	assert.Equal(t, files[1], fx.calls[1][0])

	n, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, n, 2)
}

func TestExtractWrongPasswordKillsProcess(t *testing.T) {
	dest := t.TempDir()
	fx := &fakeExec{behave: func(p *fakeProc, name string, args []string) {
		// waits on a password prompt forever
	}}
	h := newHandler(fx)

	err := h.ExtractSFX(context.Background(), []string{"/in/x.exe"}, dest, "wrong")
	require.ErrorIs(t, err, ErrWrongPassword)
	require.Len(t, fx.procs, 1)
	assert.True(t, fx.procs[0].killed)
}

func TestExtractFinishesWithoutOutput(t *testing.T) {
	dest := t.TempDir()
	fx := &fakeExec{behave: func(p *fakeProc, name string, args []string) {
		p.finish(util.Output{}, nil)
	}}
	h := newHandler(fx)

	err := h.ExtractSFX(context.Background(), []string{"/in/x.exe"}, dest, "pw")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestExtractSecondFileFailureFailsStep(t *testing.T) {
	dest := t.TempDir()
	fx := &fakeExec{behave: func(p *fakeProc, name string, args []string) {
		if strings.HasSuffix(name, "2.exe") {
			p.finish(util.Output{Stderr: []byte("ERROR: CRC Failed")}, nil)
			return
		}
		_ = os.WriteFile(filepath.Join(outDir(args), "doc.pdf"), []byte("x"), 0o644)
		p.finish(util.Output{}, nil)
	}}
	h := newHandler(fx)

	err := h.ExtractSFX(context.Background(), []string{"/in/1.exe", "/in/2.exe"}, dest, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRC Failed")
}

func TestExtractSplitArgs(t *testing.T) {
	dest := t.TempDir()
	fx := &fakeExec{behave: func(p *fakeProc, name string, args []string) {
		_ = os.WriteFile(filepath.Join(outDir(args), "Bestanden.txt"), []byte("x"), 0o644)
		p.finish(util.Output{}, nil)
	}}
	h := newHandler(fx)

	require.NoError(t, h.ExtractSplit(context.Background(), "/in/drop.zip.001", dest, "pw"))
	assert.Equal(t, []string{"7z", "x", "/in/drop.zip.001", "-y", "-r", "-ppw", "-o" + dest}, fx.calls[0])
}

func TestCompress(t *testing.T) {
	dir := t.TempDir()
	folder := filepath.Join(dir, "ACME01_100_P")
	require.NoError(t, os.Mkdir(folder, 0o755))

	fx := &fakeExec{behave: func(p *fakeProc, name string, args []string) {
		_ = os.WriteFile(args[1], []byte("7z"), 0o644)
		p.finish(util.Output{}, nil)
	}}
	h := newHandler(fx)

	got, err := h.Compress(context.Background(), folder, "pw")
	require.NoError(t, err)
	assert.Equal(t, folder+".7z", got)
	assert.Equal(t, []string{"7z", "a", folder + ".7z", folder, "-ppw", "-mhe=on"}, fx.calls[0])
}

func TestCompressSurfacesStderr(t *testing.T) {
	fx := &fakeExec{behave: func(p *fakeProc, name string, args []string) {
		p.finish(util.Output{Stderr: []byte("access denied"), ExitCode: 2}, errors.New("exit status 2"))
	}}
	h := newHandler(fx)

	_, err := h.CompressAll(context.Background(), []string{"/x/a", "/x/b"}, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Len(t, fx.calls, 1)
}

func TestFolderSizeSkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "12345")
	writeFile(t, filepath.Join(dir, "sub", "b"), "123")
	outside := filepath.Join(t.TempDir(), "big")
	writeFile(t, outside, strings.Repeat("x", 1000))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	size, err := FolderSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}

func TestFindArchives(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b_ExportPayrollFile.exe"), "")
	writeFile(t, filepath.Join(dir, "a_ExportPayrollFile.exe"), "")
	writeFile(t, filepath.Join(dir, "other.exe"), "")

	got, err := FindArchives(dir, "*ExportPayrollFile*.exe")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a_ExportPayrollFile.exe"), filepath.Join(dir, "b_ExportPayrollFile.exe")}, got)

	_, err = FindArchives(dir, "*ExportPersonnelFile*.exe")
	assert.ErrorIs(t, err, ErrNoArchive)
}

func TestFindSplitStartRequiresOne(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.zip.001"), "")
	writeFile(t, filepath.Join(dir, "a.zip.002"), "")

	got, err := FindSplitStart(dir, "*.zip.001")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.zip.001"), got)

	writeFile(t, filepath.Join(dir, "b.zip.001"), "")
	_, err = FindSplitStart(dir, "*.zip.001")
	assert.Error(t, err)
}

func makeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestUnzipNested(t *testing.T) {
	dir := t.TempDir()
	makeZip(t, filepath.Join(dir, "1000.zip"), map[string]string{"index.xml": "<i/>", "docs/a.pdf": "a"})
	makeZip(t, filepath.Join(dir, "2000.zip"), map[string]string{"index.xml": "<i/>"})

	zips, err := UnzipNested(dir)
	require.NoError(t, err)
	assert.Len(t, zips, 2)
	assert.FileExists(t, filepath.Join(dir, "1000", "index.xml"))
	assert.FileExists(t, filepath.Join(dir, "1000", "docs", "a.pdf"))
	assert.FileExists(t, filepath.Join(dir, "2000", "index.xml"))
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	makeZip(t, filepath.Join(dir, "evil.zip"), map[string]string{"../outside.txt": "x"})
	err := Unzip(filepath.Join(dir, "evil.zip"), filepath.Join(dir, "evil"))
	assert.Error(t, err)
}
