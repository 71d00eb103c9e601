// Package layout resolves the canonical per-customer directory structure
// under the migration root and discovers eligible customer drops.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/migtype"
)

const (
	DocsDirName  = "DOCS"
	LogDirName   = "Log"
	IndexDirName = "index"

	// RobotMarker is carried by every directory the robot already finalised.
	RobotMarker = "_robot"
)

// ErrPasswordNotFound is returned when none of the accepted password files exist.
var ErrPasswordNotFound = errors.New("password file not found")

// Resolver derives paths for one migration root.
type Resolver struct {
	Root           string
	ReservedDirs   []string
	PasswordFiles  []string
	PropertiesFile string
	ParametersFile string
	CountersFile   string
}

// New builds a Resolver from the application config.
func New(cfg config.Config) *Resolver {
	return &Resolver{
		Root:           cfg.MigRoot,
		ReservedDirs:   cfg.ReservedDirs,
		PasswordFiles:  cfg.PasswordFiles,
		PropertiesFile: cfg.PropertiesFile,
		ParametersFile: cfg.ParametersFile,
		CountersFile:   cfg.CountersFile,
	}
}

func (r *Resolver) CustomerDir(customer string) string {
	return filepath.Join(r.Root, customer)
}

func (r *Resolver) MigDir(customer string, kind migtype.Kind) string {
	return filepath.Join(r.Root, customer, kind.String())
}

func (r *Resolver) DocsDir(customer string, kind migtype.Kind) string {
	return filepath.Join(r.MigDir(customer, kind), DocsDirName)
}

func (r *Resolver) IndexDir(customer string, kind migtype.Kind) string {
	return filepath.Join(r.MigDir(customer, kind), IndexDirName)
}

func (r *Resolver) LogDir(customer string) string {
	return filepath.Join(r.CustomerDir(customer), LogDirName)
}

func (r *Resolver) PropertiesPath(customer string) string {
	return filepath.Join(r.CustomerDir(customer), r.PropertiesFile)
}

func (r *Resolver) ParametersPath(customer string) string {
	return filepath.Join(r.CustomerDir(customer), r.ParametersFile)
}

func (r *Resolver) CountersPath(customer string, kind migtype.Kind) string {
	return filepath.Join(r.MigDir(customer, kind), r.CountersFile)
}

// EnsureDocsDir creates the DOCS staging folder if needed and returns its path.
func (r *Resolver) EnsureDocsDir(customer string, kind migtype.Kind) (string, error) {
	return EnsureDir(r.DocsDir(customer, kind))
}

// EnsureLogDir creates the customer Log folder if needed and returns its path.
func (r *Resolver) EnsureLogDir(customer string) (string, error) {
	return EnsureDir(r.LogDir(customer))
}

// EnsureIndexDir creates the index folder if needed and returns its path.
func (r *Resolver) EnsureIndexDir(customer string, kind migtype.Kind) (string, error) {
	return EnsureDir(r.IndexDir(customer, kind))
}

// EnsureDir returns path unchanged when it already is a directory and
// creates it otherwise. Creation errors are returned as-is, not retried.
func EnsureDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("%s exists and is not a directory", path)
		}
		return path, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", path, err)
	}
	return path, nil
}

// PasswordFile returns the first existing password sidecar in the type folder.
func (r *Resolver) PasswordFile(customer string, kind migtype.Kind) (string, error) {
	dir := r.MigDir(customer, kind)
	for _, name := range r.PasswordFiles {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s (tried %s)", ErrPasswordNotFound, dir, strings.Join(r.PasswordFiles, ", "))
}

// ReadPassword reads the archive password once from the sidecar file.
func (r *Resolver) ReadPassword(customer string, kind migtype.Kind) (string, error) {
	p, err := r.PasswordFile(customer, kind)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read password file %s: %w", p, err)
	}
	pw := strings.TrimSpace(strings.TrimPrefix(string(raw), "\ufeff"))
	if pw == "" {
		return "", fmt.Errorf("password file %s is empty", p)
	}
	return pw, nil
}

// IsReserved reports whether name is one of the reserved shared folders.
func (r *Resolver) IsReserved(name string) bool {
	return slices.Contains(r.ReservedDirs, name)
}

// Eligible applies the batch discovery rule to a single top-level directory.
func (r *Resolver) Eligible(name string, kind migtype.Kind) bool {
	if r.IsReserved(name) || strings.Contains(name, RobotMarker) {
		return false
	}
	info, err := os.Stat(r.MigDir(name, kind))
	return err == nil && info.IsDir()
}

// Discover lists the eligible customer directories for kind, sorted by name.
func (r *Resolver) Discover(kind migtype.Kind) ([]string, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, fmt.Errorf("read migration root %s: %w", r.Root, err)
	}
	var customers []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if r.Eligible(e.Name(), kind) {
			customers = append(customers, e.Name())
		}
	}
	sort.Strings(customers)
	return customers, nil
}
