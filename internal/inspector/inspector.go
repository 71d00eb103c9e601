// Package inspector reports what the robot would see in a customer drop
// without touching it.
package inspector

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/migrobot/internal/archive"
	"github.com/brensch/migrobot/internal/checks"
	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/counters"
	"github.com/brensch/migrobot/internal/layout"
	"github.com/brensch/migrobot/internal/migtype"
)

// PathInfo is one resolved location and whether it is present.
type PathInfo struct {
	Name   string
	Path   string
	Exists bool
}

// Report is the read-only view of one customer drop.
type Report struct {
	Customer     string
	Kind         migtype.Kind
	Eligible     bool
	Precondition error
	Paths        []PathInfo
	PasswordFile string
	Archives     []string
	CmdFiles     []string
	MoveRows     int
	DocsFiles    int
	Counters     counters.Snapshot
	CountersErr  error
	Target       string
	TargetSource layout.TargetSource
}

// Inspect collects the Report for customer. Nothing is created, moved or
// renamed. Only a failure to walk the drop itself is returned as an error.
func Inspect(cfg config.Config, customer string, kind migtype.Kind, logger *slog.Logger) (Report, error) {
	r := layout.New(cfg)
	rep := Report{Customer: customer, Kind: kind, Eligible: r.Eligible(customer, kind)}
	l := logger.With(slog.String("customer", customer), slog.String("mig_type", kind.String()))

	rep.Precondition = checks.New(cfg, r, l).Run(customer, kind)

	for _, p := range []struct{ name, path string }{
		{"customer", r.CustomerDir(customer)},
		{"migration", r.MigDir(customer, kind)},
		{"docs", r.DocsDir(customer, kind)},
		{"index", r.IndexDir(customer, kind)},
		{"log", r.LogDir(customer)},
		{"properties", r.PropertiesPath(customer)},
		{"parameters", r.ParametersPath(customer)},
		{"counters", r.CountersPath(customer, kind)},
	} {
		_, err := os.Stat(p.path)
		rep.Paths = append(rep.Paths, PathInfo{Name: p.name, Path: p.path, Exists: err == nil})
	}

	if pw, err := r.PasswordFile(customer, kind); err == nil {
		rep.PasswordFile = pw
	}

	archives, err := archive.FindArchives(r.MigDir(customer, kind), kind.ArchivePattern())
	if err != nil && !errors.Is(err, archive.ErrNoArchive) {
		return rep, err
	}
	rep.Archives = archives

	customerDir := r.CustomerDir(customer)
	if _, err := os.Stat(customerDir); err == nil {
		if rep.CmdFiles, err = counters.FindCmdFiles(customerDir); err != nil {
			return rep, err
		}
		for _, f := range rep.CmdFiles {
			n, err := counters.CountMoveRows(f)
			if err != nil {
				return rep, err
			}
			rep.MoveRows += n
		}
	}

	if n, err := counters.CountFilesRecursive(r.DocsDir(customer, kind)); err == nil {
		rep.DocsFiles = n
	}

	snap, err := counters.ParseFile(r.CountersPath(customer, kind))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			rep.CountersErr = err
		}
	} else {
		rep.Counters = snap.Migrated()
	}

	if len(rep.CmdFiles) > 0 {
		script, err := os.ReadFile(rep.CmdFiles[0])
		if err != nil {
			return rep, fmt.Errorf("read cmd file: %w", err)
		}
		target, source, ok, err := r.TargetPath(customer, kind, string(script))
		if err != nil {
			l.Warn("Parameters workbook unreadable, using cmd file.", "error", err)
			target, ok = layout.ResolveTargetPath(kind, string(script))
			source = layout.SourceScript
		}
		if ok {
			rep.Target, rep.TargetSource = target, source
		}
	}
	return rep, nil
}

// Write prints the report as aligned text.
func (rep Report) Write(w io.Writer) {
	fmt.Fprintf(w, "--- Inspection of %s (%s) ---\n", rep.Customer, rep.Kind)
	fmt.Fprintf(w, "%-14s : %t\n", "Eligible", rep.Eligible)
	if rep.Precondition != nil {
		fmt.Fprintf(w, "%-14s : FAILED (%v)\n", "Preconditions", rep.Precondition)
	} else {
		fmt.Fprintf(w, "%-14s : OK\n", "Preconditions")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-12s | %-7s | %s\n", "Location", "Present", "Path")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, p := range rep.Paths {
		fmt.Fprintf(w, "%-12s | %-7t | %s\n", p.Name, p.Exists, p.Path)
	}
	fmt.Fprintln(w)

	pw := rep.PasswordFile
	if pw == "" {
		pw = "(missing)"
	}
	fmt.Fprintf(w, "%-14s : %s\n", "Password file", pw)
	fmt.Fprintf(w, "%-14s : %d\n", "Archives", len(rep.Archives))
	for _, a := range rep.Archives {
		fmt.Fprintf(w, "  %s\n", filepath.Base(a))
	}
	fmt.Fprintf(w, "%-14s : %d (%d move rows)\n", "Cmd files", len(rep.CmdFiles), rep.MoveRows)
	fmt.Fprintf(w, "%-14s : %d\n", "DOCS files", rep.DocsFiles)
	if rep.Target != "" {
		fmt.Fprintf(w, "%-14s : %s (from %s)\n", "Target", rep.Target, rep.TargetSource)
	}

	switch {
	case rep.CountersErr != nil:
		fmt.Fprintf(w, "%-14s : unreadable (%v)\n", "Counters", rep.CountersErr)
	case len(rep.Counters) == 0:
		fmt.Fprintf(w, "%-14s : (none)\n", "Counters")
	default:
		fmt.Fprintf(w, "%-14s : %d migrated\n", "Counters", rep.Counters.Total())
		for _, id := range sortedKeys(rep.Counters) {
			fmt.Fprintf(w, "  %-40s %d\n", id, rep.Counters[id])
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
