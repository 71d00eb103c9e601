// Package jobrunner invokes the external ETL launcher and the command
// scripts it generates.
package jobrunner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/counters"
	"github.com/brensch/migrobot/internal/migtype"
	"github.com/brensch/migrobot/internal/util"
)

const (
	// EncodingPreamble switches the Windows console to UTF-8.
	EncodingPreamble = "chcp 65001"
	// PreambleLines is the number of lines the preamble adds to a script.
	PreambleLines = 1

	migrateMarker = "_MIGRATE_"
	logfileMarker = "-logfile:"
)

// JobResult is the captured outcome of one launcher run.
type JobResult struct {
	OK     bool
	Lines  []string
	Stderr string
}

// ScriptResult is the captured outcome of one cmd script run.
type ScriptResult struct {
	Script    string
	OK        bool
	Errors    []string
	NotFound  int
	Tolerated bool
}

// Runner runs the launcher with the ETL installation directory as its
// working directory. Launcher is the full path of the launcher script.
type Runner struct {
	PentahoDir        string
	Launcher          string
	NotFoundTolerance int

	exec   util.Executor
	logger *slog.Logger
}

func New(cfg config.Config, exec util.Executor, logger *slog.Logger) *Runner {
	return &Runner{
		PentahoDir:        cfg.PentahoDir,
		Launcher:          cfg.LauncherPath(),
		NotFoundTolerance: cfg.Reconcile.MLMNotFoundAllowed,
		exec:              exec,
		logger:            logger,
	}
}

// RunJob calls the launcher with (customer, job id) and waits for it to
// finish. Non-empty stderr marks the job failed; the returned error is
// reserved for failures to start or wait on the process.
func (r *Runner) RunJob(ctx context.Context, customer string, kind migtype.Kind) (JobResult, error) {
	launcher := r.Launcher
	l := r.logger.With(slog.String("launcher", filepath.Base(launcher)), slog.String("job_id", kind.JobID()))
	l.Info("Running migration job.")

	out, err := r.exec.Run(ctx, r.PentahoDir, launcher, customer, kind.JobID())
	stderr := strings.TrimSpace(string(out.Stderr))
	if err != nil && stderr == "" && out.ExitCode == 0 {
		return JobResult{}, fmt.Errorf("run launcher %s: %w", launcher, err)
	}
	res := JobResult{Lines: util.Lines(out.Stdout), Stderr: stderr}
	if stderr != "" {
		l.Error("Migration job failed.", "stderr", stderr)
		return res, nil
	}
	if err != nil {
		l.Warn("Launcher exited with non-zero status and empty stderr.", "exit_code", out.ExitCode)
	}
	for _, line := range res.Lines {
		if strings.Contains(line, migrateMarker) && !strings.Contains(line, logfileMarker) {
			l.Info(strings.TrimSpace(line))
		}
	}
	res.OK = true
	l.Info("Migration job finished.")
	return res, nil
}

// PrependEncoding rewrites the script in place with the UTF-8 preamble as
// its first line. The script permanently gains PreambleLines lines.
func PrependEncoding(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cmd file %s: %w", path, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cmd file %s: %w", path, err)
	}
	content := EncodingPreamble + "\n" + string(body)
	if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write cmd file %s: %w", path, err)
	}
	return nil
}

// ExecScript adds the encoding preamble and runs the script. For MLM up to
// NotFoundTolerance "cannot find the file" errors are accepted as partial
// loss; any other stderr output fails the script.
func (r *Runner) ExecScript(ctx context.Context, kind migtype.Kind, path string) (ScriptResult, error) {
	l := r.logger.With(slog.String("script", filepath.Base(path)))
	if err := PrependEncoding(path); err != nil {
		return ScriptResult{}, err
	}
	l.Info("Cmd file encoding changed to UTF-8, one row added.")

	l.Info("Executing cmd file.")
	out, err := r.exec.Run(ctx, filepath.Dir(path), path)
	errs := util.Lines(out.Stderr)
	if err != nil && len(errs) == 0 && out.ExitCode == 0 {
		return ScriptResult{}, fmt.Errorf("run cmd file %s: %w", path, err)
	}

	res := ScriptResult{
		Script:   path,
		Errors:   errs,
		NotFound: util.CountContaining(errs, counters.NotFoundToken),
	}
	switch {
	case len(errs) == 0:
		res.OK = true
		l.Info("Cmd file executed successfully.")
	case kind == migtype.MLM && res.NotFound == len(errs) && res.NotFound <= r.NotFoundTolerance:
		res.OK = true
		res.Tolerated = true
		l.Warn("Cmd file executed with tolerated missing files.", "not_found", res.NotFound, "tolerance", r.NotFoundTolerance)
	default:
		l.Error("Cmd file execution failed.", "errors", len(errs), "not_found", res.NotFound)
	}
	return res, nil
}

// ExecScripts runs every script in order and stops at the first failure.
func (r *Runner) ExecScripts(ctx context.Context, kind migtype.Kind, paths []string) ([]ScriptResult, error) {
	results := make([]ScriptResult, 0, len(paths))
	for _, p := range paths {
		res, err := r.ExecScript(ctx, kind, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if !res.OK {
			return results, nil
		}
	}
	return results, nil
}

// AllOK reports whether every script in results succeeded and all were run.
func AllOK(results []ScriptResult, expected int) bool {
	if len(results) != expected {
		return false
	}
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}
