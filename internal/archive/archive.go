// Package archive extracts the password-protected inbound drops with 7-Zip
// and re-compresses delivered e-dossier folders.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/util"
)

// ErrWrongPassword is returned when extraction makes no progress before the
// poll budget runs out. 7-Zip blocks on a password prompt in that case.
var ErrWrongPassword = errors.New("wrong password or corrupted file")

// ErrNoArchive is returned when no inbound archive matches the pattern.
var ErrNoArchive = errors.New("no archive found")

// Handler drives the 7-Zip executable and self-extracting archives.
type Handler struct {
	SevenZip     string
	PollInterval time.Duration
	PollRetries  int

	exec   util.Executor
	logger *slog.Logger
}

func New(cfg config.Config, exec util.Executor, logger *slog.Logger) *Handler {
	return &Handler{
		SevenZip:     cfg.SevenZipPath,
		PollInterval: cfg.Extraction.PollInterval,
		PollRetries:  cfg.Extraction.PollRetries,
		exec:         exec,
		logger:       logger,
	}
}

// FindArchives returns the regular files in dir matching pattern, sorted.
func FindArchives(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s in %s: %w", pattern, dir, err)
	}
	var out []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoArchive, pattern, dir)
	}
	sort.Strings(out)
	return out, nil
}

// FindSplitStart returns the first volume of the single multi-volume archive in dir.
func FindSplitStart(dir, pattern string) (string, error) {
	starts, err := FindArchives(dir, pattern)
	if err != nil {
		return "", err
	}
	if len(starts) != 1 {
		return "", fmt.Errorf("expected one split archive start in %s, found %d", dir, len(starts))
	}
	return starts[0], nil
}

// ExtractSFX runs each self-extracting archive into dest. Only the first one
// is progress-checked. Any failure fails the whole step.
func (h *Handler) ExtractSFX(ctx context.Context, files []string, dest, password string) error {
	if len(files) == 0 {
		return ErrNoArchive
	}
	extracted := 0
	for i, f := range files {
		args := []string{"-y", "-gm2", "-r", "-p" + password, "-o" + dest}
		l := h.logger.With(slog.String("archive", filepath.Base(f)), slog.Int("index", i+1), slog.Int("total", len(files)))
		l.Info("Extracting self-extracting archive.")

		var err error
		if i == 0 {
			err = h.runWatched(ctx, l, f, args, dest)
		} else {
			err = h.run(ctx, f, args)
		}
		if err != nil {
			l.Error("Extraction failed.", "error", err)
			return fmt.Errorf("extract %s: %w", filepath.Base(f), err)
		}
		extracted++
		l.Info("Archive extracted.")
	}
	if extracted != len(files) {
		return fmt.Errorf("extracted %d of %d archives", extracted, len(files))
	}
	return nil
}

// ExtractSplit extracts a multi-volume 7z archive starting at start into dest.
func (h *Handler) ExtractSplit(ctx context.Context, start, dest, password string) error {
	l := h.logger.With(slog.String("archive", filepath.Base(start)))
	l.Info("Extracting split archive.")
	args := []string{"x", start, "-y", "-r", "-p" + password, "-o" + dest}
	if err := h.runWatched(ctx, l, h.SevenZip, args, dest); err != nil {
		l.Error("Extraction failed.", "error", err)
		return fmt.Errorf("extract %s: %w", filepath.Base(start), err)
	}
	l.Info("Archive extracted.")
	return nil
}

// Compress packs folder into a header-encrypted <folder>.7z sibling.
func (h *Handler) Compress(ctx context.Context, folder, password string) (string, error) {
	out := folder + ".7z"
	args := []string{"a", out, folder, "-p" + password, "-mhe=on"}
	if err := h.run(ctx, h.SevenZip, args); err != nil {
		h.logger.Error("Compression failed.", "folder", folder, "error", err)
		return "", fmt.Errorf("compress %s: %w", filepath.Base(folder), err)
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("compressed archive %s missing: %w", out, err)
	}
	h.logger.Info("Folder compressed.", "archive", filepath.Base(out))
	return out, nil
}

// CompressAll compresses every folder, aborting on the first failure.
func (h *Handler) CompressAll(ctx context.Context, folders []string, password string) ([]string, error) {
	out := make([]string, 0, len(folders))
	for _, f := range folders {
		z, err := h.Compress(ctx, f, password)
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, nil
}

func (h *Handler) run(ctx context.Context, name string, args []string) error {
	res, err := h.exec.Run(ctx, "", name, args...)
	if err != nil {
		return withStderr(err, res.Stderr)
	}
	if stderr := strings.TrimSpace(string(res.Stderr)); stderr != "" {
		return fmt.Errorf("7-zip reported errors: %s", stderr)
	}
	return nil
}

type waitResult struct {
	out util.Output
	err error
}

// runWatched starts the extraction and polls dest until it grows. If it
// never grows within the poll budget the process is killed.
func (h *Handler) runWatched(ctx context.Context, l *slog.Logger, name string, args []string, dest string) error {
	before, err := FolderSize(dest)
	if err != nil {
		return err
	}
	p, err := h.exec.Start(ctx, "", name, args...)
	if err != nil {
		return err
	}
	done := make(chan waitResult, 1)
	go func() {
		out, err := p.Wait()
		done <- waitResult{out: out, err: err}
	}()

	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		select {
		case res := <-done:
			if err := finished(res); err != nil {
				return err
			}
			size, err := FolderSize(dest)
			if err != nil {
				return err
			}
			if size <= before {
				return ErrWrongPassword
			}
			return nil
		case <-ctx.Done():
			_ = p.Kill()
			<-done
			return ctx.Err()
		case <-ticker.C:
			size, err := FolderSize(dest)
			if err != nil {
				_ = p.Kill()
				<-done
				return err
			}
			if size > before {
				l.Info("Extraction progressing.", "bytes", size-before, "poll", attempt)
				return finished(<-done)
			}
			l.Debug("No extraction progress yet.", "poll", attempt, "retries", h.PollRetries)
			if attempt >= h.PollRetries {
				_ = p.Kill()
				<-done
				return ErrWrongPassword
			}
		}
	}
}

func finished(res waitResult) error {
	if res.err != nil {
		return withStderr(res.err, res.out.Stderr)
	}
	if stderr := strings.TrimSpace(string(res.out.Stderr)); stderr != "" {
		return fmt.Errorf("7-zip reported errors: %s", stderr)
	}
	return nil
}

func withStderr(err error, stderr []byte) error {
	if s := strings.TrimSpace(string(stderr)); s != "" {
		return fmt.Errorf("%w: %s", err, s)
	}
	return err
}

// FolderSize sums the sizes of regular files below dir. Symbolic links are
// not followed or counted.
func FolderSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure folder %s: %w", dir, err)
	}
	return total, nil
}
