// Package counters derives the independent counts the reconciliation
// checkpoints compare: the external tool's Counters.csv, move rows in
// generated cmd scripts and files on disk.
package counters

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// MigratedMarker selects the Counters.csv rows that count migrated documents.
	MigratedMarker = "_Migrated"
	// MoveToken marks a document relocation row in a cmd script.
	MoveToken = "move "
	// NotFoundToken marks a missing source file in cmd script stderr.
	NotFoundToken = "cannot find the file"
)

// Snapshot is one parse of Counters.csv. It is never cached: the external
// tool rewrites the file between pipeline stages.
type Snapshot map[string]int

// ParseFile reads a ';'-delimited key;value counters file. Any row that is
// not exactly two columns is an error. Values must be integers only for
// migrated-document keys; other non-numeric rows (headers, run dates) are
// skipped.
func ParseFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open counters file %s: %w", path, err)
	}
	defer f.Close()
	snap, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse counters file %s: %w", path, err)
	}
	return snap, nil
}

// Parse reads counters rows from r.
func Parse(r io.Reader) (Snapshot, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	snap := Snapshot{}
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if len(rec) != 2 {
			return nil, fmt.Errorf("row %d: expected 2 columns, got %d", line, len(rec))
		}
		key := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
		n, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			if strings.Contains(key, MigratedMarker) {
				return nil, fmt.Errorf("row %d: value for %q: %w", line, key, err)
			}
			continue
		}
		snap[key] += n
	}
	return snap, nil
}

// Migrated keeps only the entries counting migrated documents.
func (s Snapshot) Migrated() Snapshot {
	out := Snapshot{}
	for k, v := range s {
		if strings.Contains(k, MigratedMarker) {
			out[k] = v
		}
	}
	return out
}

// MigrationFolders returns the folder names encoded in keys carrying prefix
// (e.g. "PDOL_Migrated_"), with the prefix stripped, sorted.
func (s Snapshot) MigrationFolders(prefix string) []string {
	var out []string
	for k := range s {
		if name, ok := strings.CutPrefix(k, prefix); ok && name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PerCompany sums migrated counts by company id, taken as the second
// '_'-separated token of each key.
func (s Snapshot) PerCompany() map[string]int {
	out := map[string]int{}
	for k, v := range s.Migrated() {
		parts := strings.Split(k, "_")
		if len(parts) < 2 || parts[1] == "" {
			continue
		}
		out[parts[1]] += v
	}
	return out
}

// Total sums every entry.
func (s Snapshot) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// CountMoveRows counts the lines of a cmd script containing a move instruction.
func CountMoveRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open cmd file %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		if strings.Contains(strings.ToLower(sc.Text()), MoveToken) {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read cmd file %s: %w", path, err)
	}
	return n, nil
}

// CountFiles counts regular files directly inside dir.
func CountFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read directory %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	return n, nil
}

// CountFilesRecursive counts regular files anywhere below dir.
func CountFilesRecursive(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk directory %s: %w", dir, err)
	}
	return n, nil
}

// FindCmdFiles returns every *.cmd file below dir, sorted.
func FindCmdFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".cmd") {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search cmd files in %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// CmdCompanyID extracts the company id embedded as the third '_'-separated
// token of an SDOL cmd file name.
func CmdCompanyID(path string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(name, "_")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("cmd file name %s carries no company id", filepath.Base(path))
	}
	return parts[2], nil
}

// MoveRowsPerCompany counts move rows of each SDOL cmd file, summed per
// company id.
func MoveRowsPerCompany(cmdFiles []string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range cmdFiles {
		id, err := CmdCompanyID(p)
		if err != nil {
			return nil, err
		}
		n, err := CountMoveRows(p)
		if err != nil {
			return nil, err
		}
		out[id] += n
	}
	return out, nil
}
